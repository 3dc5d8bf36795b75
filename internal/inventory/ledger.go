package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRepository exposes the ledger writes of a caller-owned transaction.
type TxRepository interface {
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error
	GetBalanceForUpdate(ctx context.Context, destination, materialKey string) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
}

// Ledger posts stock movements. It owns no transaction; callers pass the
// TxRepository of the transaction the movement must commit with.
type Ledger struct {
	now func() time.Time
}

// NewLedger constructs a ledger using wall-clock time.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// PostInboundTx records an inbound movement and updates the moving average cost.
func (l *Ledger) PostInboundTx(ctx context.Context, tx TxRepository, input InboundInput) (StockCardEntry, error) {
	if err := input.validate(); err != nil {
		return StockCardEntry{}, err
	}
	now := l.now().UTC()
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("INV-%d", now.UnixNano())
	}

	balance, err := tx.GetBalanceForUpdate(ctx, input.Destination, input.MaterialKey)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return StockCardEntry{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{Destination: input.Destination, MaterialKey: input.MaterialKey, Qty: decimal.Zero, AvgCost: decimal.Zero}
	}
	newQty := balance.Qty.Add(input.Qty)
	totalCost := balance.Qty.Mul(balance.AvgCost).Add(input.Qty.Mul(input.UnitCost))
	newAvg := decimal.Zero
	if !newQty.IsZero() {
		newAvg = totalCost.DivRound(newQty, 6)
	}

	txID, err := tx.InsertTransaction(ctx, Transaction{
		Code:        code,
		Type:        TransactionTypeIn,
		Destination: input.Destination,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
		Note:        input.Note,
		PostedAt:    now,
		CreatedBy:   input.ActorID,
	})
	if err != nil {
		return StockCardEntry{}, err
	}
	line := TransactionLine{
		TransactionID: txID,
		ItemCode:      input.ItemCode,
		MaterialKey:   input.MaterialKey,
		MaterialName:  input.MaterialName,
		Unit:          input.Unit,
		Qty:           input.Qty,
		UnitCost:      input.UnitCost,
	}
	if err := tx.InsertTransactionLines(ctx, txID, []TransactionLine{line}); err != nil {
		return StockCardEntry{}, err
	}
	balance.Qty = newQty
	balance.AvgCost = newAvg
	balance.UpdatedAt = now
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return StockCardEntry{}, err
	}
	return StockCardEntry{
		TxID:        txID,
		TxCode:      code,
		TxType:      TransactionTypeIn,
		PostedAt:    now,
		QtyIn:       input.Qty,
		BalanceQty:  newQty,
		UnitCost:    input.UnitCost,
		BalanceCost: newAvg,
		Note:        input.Note,
	}, nil
}

func (in InboundInput) validate() error {
	if !ValidDestination(in.Destination) {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, in.Destination)
	}
	if in.MaterialKey == "" || in.ItemCode == "" {
		return errors.New("inventory: item code and material required")
	}
	if !in.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	if in.RefID != "" {
		if _, err := uuid.Parse(in.RefID); err != nil {
			return fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}
	return nil
}

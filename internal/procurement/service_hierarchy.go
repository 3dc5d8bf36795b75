package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// FulfillmentInput describes a follow-up receipt for outstanding shortages.
// Lines are keyed by PO line; PO lines without a shortage are rejected.
type FulfillmentInput struct {
	POID          int64
	ReceivedAt    time.Time
	InvoiceNumber string
	ChallanNumber string
	Remarks       string
	Draft         bool
	ActorID       int64
	Lines         []GRNLineInput
}

// CreateShortageFulfillmentGRN records a receipt against the shortages left by
// the latest GRN of a purchase order and links it to the chain root. A PO
// without any receipt yet gets a regular first GRN.
func (s *Service) CreateShortageFulfillmentGRN(ctx context.Context, input FulfillmentInput) (GoodsReceipt, error) {
	if input.POID == 0 {
		return GoodsReceipt{}, validationError("po_id", "required")
	}
	if err := requireActor(input.ActorID); err != nil {
		return GoodsReceipt{}, err
	}
	var created GoodsReceipt
	err := s.withLock(ctx, shared.POLockKey(input.POID), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, poLines, err := tx.LockPO(ctx, input.POID)
			if err != nil {
				return err
			}
			chain, err := tx.ListGRNsByPO(ctx, po.ID)
			if err != nil {
				return err
			}
			latest, ok := latestActive(chain)
			if !ok {
				lines, err := buildRootLines(poLines, input.Lines)
				if err != nil {
					return err
				}
				grn := s.newGRN(po.ID, input.ReceivedAt, input.InvoiceNumber, input.ChallanNumber, input.Remarks, input.Draft, input.ActorID)
				created, err = s.insertGRN(ctx, tx, grn, lines)
				return err
			}
			if !latest.InventoryAdded {
				return grnError("fulfill", latest, ErrInvalidTransition, "latest goods receipt not yet committed to inventory")
			}
			root, ok := rootOf(chain)
			if !ok {
				return grnError("fulfill", latest, ErrInvalidTransition, "no root goods receipt")
			}
			lines, err := buildFulfillmentLines(latest, input.Lines)
			if err != nil {
				return err
			}
			grn := s.newGRN(po.ID, input.ReceivedAt, input.InvoiceNumber, input.ChallanNumber, input.Remarks, input.Draft, input.ActorID)
			grn.OriginalGRNID = root.ID
			grn.IsShortageFulfillment = true
			created, err = s.insertGRN(ctx, tx, grn, lines)
			return err
		})
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCreate(ctx, created)
	return created, nil
}

// buildFulfillmentLines snapshots the shortage lines of prev, ordering exactly the outstanding shortage.
func buildFulfillmentLines(prev GoodsReceipt, inputs []GRNLineInput) ([]GRNLine, error) {
	short := ShortageLines(prev.Lines)
	if len(short) == 0 {
		return nil, grnError("fulfill", prev, ErrNoOutstandingShortage, "")
	}
	byPOLine, err := indexLineInputs(inputs)
	if err != nil {
		return nil, err
	}
	lines := make([]GRNLine, 0, len(short))
	allowed := make(map[int64]bool, len(short))
	for _, sl := range short {
		allowed[sl.POLineID] = true
		outstanding := sl.Reconcile().Shortage
		line := GRNLine{
			POLineID:    sl.POLineID,
			Material:    sl.Material,
			OrderedQty:  outstanding,
			InvoicedQty: outstanding,
			ReceivedQty: decimal.Zero,
			Rate:        sl.Rate,
			Weight:      decimal.Zero,
			outstanding: true,
		}
		if in, ok := byPOLine[sl.POLineID]; ok {
			applyLineInput(&line, in)
		}
		lines = append(lines, line)
	}
	for id := range byPOLine {
		if !allowed[id] {
			return nil, validationError("lines", fmt.Sprintf("po line %d has no outstanding shortage", id))
		}
	}
	if err := checkQuantities(lines); err != nil {
		return nil, err
	}
	return lines, requireReceived(lines)
}

// PendingExcessResolutions lists uncommitted GRNs with overage and no resolution yet.
func (s *Service) PendingExcessResolutions(ctx context.Context, limit int) ([]GoodsReceipt, error) {
	candidates, err := s.repo.ListExcessCandidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]GoodsReceipt, 0, len(candidates))
	for _, grn := range candidates {
		if grn.Summary().HasAnyOverage {
			out = append(out, grn)
		}
	}
	return out, nil
}

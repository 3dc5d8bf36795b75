package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "IN"
)

const (
	destWarehouse = "warehouse:"
	destProject   = "project:"
)

// WarehouseDestination addresses free stock in a warehouse location.
func WarehouseDestination(location string) string {
	return destWarehouse + strings.TrimSpace(location)
}

// ProjectDestination addresses stock reserved for a sales order.
func ProjectDestination(salesOrderID int64) string {
	return fmt.Sprintf("%s%d", destProject, salesOrderID)
}

// ValidDestination reports whether dest names a warehouse location or project.
func ValidDestination(dest string) bool {
	for _, prefix := range []string{destWarehouse, destProject} {
		if strings.HasPrefix(dest, prefix) && len(dest) > len(prefix) {
			return true
		}
	}
	return false
}

// Transaction models the header of inventory transaction.
type Transaction struct {
	ID          int64
	Code        string
	Type        TransactionType
	Destination string
	RefModule   string
	RefID       string
	Note        string
	PostedAt    time.Time
	CreatedBy   int64
}

// TransactionLine models a single item movement.
type TransactionLine struct {
	ID            int64
	TransactionID int64
	ItemCode      string
	MaterialKey   string
	MaterialName  string
	Unit          string
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
}

// Balance summarises stock at a destination per material.
type Balance struct {
	Destination string
	MaterialKey string
	Qty         decimal.Decimal
	AvgCost     decimal.Decimal
	UpdatedAt   time.Time
}

// StockCardEntry is the result of a posted movement.
type StockCardEntry struct {
	TxID        int64
	TxCode      string
	TxType      TransactionType
	PostedAt    time.Time
	QtyIn       decimal.Decimal
	BalanceQty  decimal.Decimal
	UnitCost    decimal.Decimal
	BalanceCost decimal.Decimal
	Note        string
}

// InboundInput is used for GRN posting.
type InboundInput struct {
	Code         string
	ItemCode     string
	Destination  string
	MaterialKey  string
	MaterialName string
	Unit         string
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	Note         string
	ActorID      int64
	RefModule    string
	RefID        string
}

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrInvalidDestination indicates a destination outside warehouse:/project: addressing.
var ErrInvalidDestination = errors.New("inventory: invalid destination")

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory: balance not found")

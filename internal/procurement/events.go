package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GRNStatusChangedEvent is emitted after a lifecycle transition.
type GRNStatusChangedEvent struct {
	GRNID     int64     `json:"grn_id"`
	Number    string    `json:"number"`
	POID      int64     `json:"po_id"`
	From      GRNStatus `json:"from"`
	To        GRNStatus `json:"to"`
	ActorID   int64     `json:"actor_id"`
	Notes     string    `json:"notes,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// GRNCommittedEvent is emitted after stock admission.
type GRNCommittedEvent struct {
	GRNID       int64           `json:"grn_id"`
	Number      string          `json:"number"`
	POID        int64           `json:"po_id"`
	POStatus    POStatus        `json:"po_status"`
	Resolution  ExcessAction    `json:"resolution,omitempty"`
	Destination string          `json:"destination"`
	TotalQty    decimal.Decimal `json:"total_qty"`
	Lines       int             `json:"lines"`
	CommittedAt time.Time       `json:"committed_at"`
}

// MismatchRaisedEvent is emitted when a shortage request is filed.
type MismatchRaisedEvent struct {
	RequestID       int64          `json:"request_id"`
	Number          string         `json:"number"`
	GRNID           int64          `json:"grn_id"`
	RequestedAction MismatchAction `json:"requested_action"`
	Items           int            `json:"items"`
}

// VendorReturnEvent hands an auto_reject return over to the vendor returns desk.
type VendorReturnEvent struct {
	ReturnID int64              `json:"return_id"`
	Number   string             `json:"number"`
	GRNID    int64              `json:"grn_id"`
	POID     int64              `json:"po_id"`
	Lines    []VendorReturnLine `json:"lines"`
}

// EventPublisher dispatches procurement events to downstream collaborators.
// Publishing is best-effort and happens after the owning transaction commits.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, evt GRNStatusChangedEvent) error
	PublishCommitted(ctx context.Context, evt GRNCommittedEvent) error
	PublishMismatchRaised(ctx context.Context, evt MismatchRaisedEvent) error
	PublishVendorReturn(ctx context.Context, evt VendorReturnEvent) error
}

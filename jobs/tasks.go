package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGRNNotify delivers a GRN notification to interested parties.
	TaskGRNNotify = "grn:notify"
	// TaskGRNVendorReturn hands an auto-rejected overage to the vendor returns desk.
	TaskGRNVendorReturn = "grn:vendor-return"
	// TaskGRNExcessScan reports GRNs blocked on an excess decision.
	TaskGRNExcessScan = "grn:excess-scan"
)

// NotificationKind identifies what happened to a GRN.
type NotificationKind string

const (
	NotifyStatusChanged  NotificationKind = "status_changed"
	NotifyCommitted      NotificationKind = "committed"
	NotifyMismatchRaised NotificationKind = "mismatch_raised"
)

// NotifyPayload is the body of a grn:notify task.
type NotifyPayload struct {
	Kind        NotificationKind      `json:"kind"`
	GRNID       int64                 `json:"grn_id"`
	Number      string                `json:"number"`
	POID        int64                 `json:"po_id,omitempty"`
	From        procurement.GRNStatus `json:"from,omitempty"`
	To          procurement.GRNStatus `json:"to,omitempty"`
	POStatus    procurement.POStatus  `json:"po_status,omitempty"`
	Destination string                `json:"destination,omitempty"`
	TotalQty    decimal.Decimal       `json:"total_qty"`
	Action      string                `json:"action,omitempty"`
	Items       int                   `json:"items,omitempty"`
	ActorID     int64                 `json:"actor_id,omitempty"`
	Notes       string                `json:"notes,omitempty"`
	OccurredAt  time.Time             `json:"occurred_at"`
}

func (p NotifyPayload) validate() error {
	switch p.Kind {
	case NotifyStatusChanged, NotifyCommitted, NotifyMismatchRaised:
	default:
		return fmt.Errorf("jobs: unknown notification kind %q", p.Kind)
	}
	if p.GRNID <= 0 {
		return errors.New("jobs: notification without grn id")
	}
	return nil
}

// ExcessScanPayload configures a grn:excess-scan run.
type ExcessScanPayload struct {
	Limit int `json:"limit"`
}

// NewNotifyTask constructs a grn:notify task.
func NewNotifyTask(payload NotifyPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGRNNotify, body, opts...), nil
}

// NewVendorReturnTask constructs a grn:vendor-return task.
func NewVendorReturnTask(evt procurement.VendorReturnEvent, opts ...asynq.Option) (*asynq.Task, error) {
	if evt.GRNID <= 0 || evt.Number == "" {
		return nil, errors.New("jobs: vendor return requires grn id and number")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGRNVendorReturn, body, opts...), nil
}

// NewExcessScanTask constructs the periodic excess scan task.
func NewExcessScanTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(ExcessScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGRNExcessScan, body), nil
}

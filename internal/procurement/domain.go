package procurement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft    GRNStatus = "draft"
	GRNStatusReceived GRNStatus = "received"
	GRNStatusVerified GRNStatus = "verified"
	GRNStatusApproved GRNStatus = "approved"
	GRNStatusRejected GRNStatus = "rejected"
)

// IsValid reports whether the status is one of the known GRN statuses.
func (s GRNStatus) IsValid() bool {
	switch s {
	case GRNStatusDraft, GRNStatusReceived, GRNStatusVerified, GRNStatusApproved, GRNStatusRejected:
		return true
	}
	return false
}

// Editable reports whether line quantities and header fields may still change.
func (s GRNStatus) Editable() bool {
	return s == GRNStatusDraft || s == GRNStatusReceived
}

// ReadyForCommit reports whether the GRN may be committed to inventory.
func (s GRNStatus) ReadyForCommit() bool {
	return s == GRNStatusVerified || s == GRNStatusApproved
}

// Purchase order statuses as seen by the receiving desk.
type POStatus string

const (
	POStatusIssued            POStatus = "issued"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusReceived          POStatus = "received"
	POStatusCompleted         POStatus = "completed"
	POStatusExcessReceived    POStatus = "excess_received"
)

// ExcessAction enumerates the two over-delivery policies.
type ExcessAction string

const (
	ExcessAutoReject    ExcessAction = "auto_reject"
	ExcessApproveExcess ExcessAction = "approve_excess"
)

// IsValid reports whether the action is a known resolution.
func (a ExcessAction) IsValid() bool {
	return a == ExcessAutoReject || a == ExcessApproveExcess
}

// MismatchAction is the remedy requested for a shortage.
type MismatchAction string

const (
	MismatchAcceptShortage      MismatchAction = "accept_shortage"
	MismatchReturnOverage       MismatchAction = "return_overage"
	MismatchWaitForRemaining    MismatchAction = "wait_for_remaining"
	MismatchAcceptAndAdjust     MismatchAction = "accept_and_adjust"
	MismatchRequestReplacement  MismatchAction = "request_replacement"
	MismatchCancelRemainingPOQt MismatchAction = "cancel_remaining_po_quantity"
	MismatchOther               MismatchAction = "other"
)

// IsValid reports whether the action is one of the accepted remedies.
func (a MismatchAction) IsValid() bool {
	switch a {
	case MismatchAcceptShortage, MismatchReturnOverage, MismatchWaitForRemaining, MismatchAcceptAndAdjust,
		MismatchRequestReplacement, MismatchCancelRemainingPOQt, MismatchOther:
		return true
	}
	return false
}

// MismatchStatus tracks external resolution of a request.
type MismatchStatus string

const (
	MismatchStatusOpen   MismatchStatus = "open"
	MismatchStatusClosed MismatchStatus = "closed"
)

// VendorReturnStatus tracks hand-off to the vendor returns desk.
type VendorReturnStatus string

const (
	VendorReturnPending VendorReturnStatus = "pending"
)

// Material identifies a purchased material independent of pricing.
type Material struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Spec  string `json:"spec,omitempty"`
	Unit  string `json:"unit"`
}

// Key returns a stable identity string used by the inventory ledger.
func (m Material) Key() string {
	return strings.ToLower(strings.Join([]string{m.Name, m.Color, m.Spec, m.Unit}, "|"))
}

// PurchaseOrder is the read-only PO header consumed by receiving.
type PurchaseOrder struct {
	ID           int64
	Number       string
	VendorID     int64
	SalesOrderID int64
	Status       POStatus
}

// POLine is a read-only purchase order line.
type POLine struct {
	ID         int64
	POID       int64
	LineNo     int
	Material   Material
	OrderedQty decimal.Decimal
	Rate       decimal.Decimal
}

// GoodsReceipt is one receiving event against exactly one purchase order.
type GoodsReceipt struct {
	ID                    int64
	Number                string
	POID                  int64
	OriginalGRNID         int64
	IsShortageFulfillment bool
	ReceivedAt            time.Time
	InvoiceNumber         string
	ChallanNumber         string
	Remarks               string
	Status                GRNStatus
	InventoryAdded        bool
	InventoryAddedAt      time.Time
	VerifiedBy            int64
	VerifiedAt            time.Time
	VerificationNotes     string
	CreatedBy             int64
	CreatedAt             time.Time
	Lines                 []GRNLine
}

// IsRoot reports whether the GRN is the first receipt in its PO chain.
func (g GoodsReceipt) IsRoot() bool {
	return g.OriginalGRNID == 0
}

// Summary reconciles every line of the GRN.
func (g GoodsReceipt) Summary() Summary {
	return Summarize(g.Lines)
}

// GRNLine is one material line inside a GRN.
type GRNLine struct {
	ID          int64
	GRNID       int64
	POLineID    int64
	LineNo      int
	Material    Material
	OrderedQty  decimal.Decimal
	InvoicedQty decimal.Decimal
	ReceivedQty decimal.Decimal
	Rate        decimal.Decimal
	Weight      decimal.Decimal
	Remarks     string

	// outstanding marks lines of a shortage-fulfillment GRN; see ReconcileOutstanding.
	outstanding bool
}

// Reconcile classifies the line against its ordered and invoiced quantities.
func (l GRNLine) Reconcile() LineReconciliation {
	if l.outstanding {
		return ReconcileOutstanding(l.OrderedQty, l.InvoicedQty, l.ReceivedQty)
	}
	return Reconcile(l.OrderedQty, l.InvoicedQty, l.ReceivedQty)
}

// markOutstanding flags the lines of a shortage-fulfillment GRN after they are
// loaded or built.
func (g *GoodsReceipt) markOutstanding() {
	for i := range g.Lines {
		g.Lines[i].outstanding = g.IsShortageFulfillment
	}
}

// ExcessResolution is the write-once over-delivery decision for a GRN.
type ExcessResolution struct {
	ID           int64
	GRNID        int64
	Action       ExcessAction
	Notes        string
	DecidedBy    int64
	DecidedAt    time.Time
	VendorReturn *VendorReturn
}

// VendorReturn lists overage quantities sent back under auto_reject.
type VendorReturn struct {
	ID        int64
	Number    string
	GRNID     int64
	POID      int64
	Status    VendorReturnStatus
	CreatedAt time.Time
	Lines     []VendorReturnLine
}

// VendorReturnLine is the overage of one GRN line.
type VendorReturnLine struct {
	GRNLineID int64           `json:"grn_line_id"`
	Material  Material        `json:"material"`
	Qty       decimal.Decimal `json:"quantity"`
}

// MismatchRequest records a shortage and the remedy asked of the approver.
type MismatchRequest struct {
	ID              int64
	Number          string
	GRNID           int64
	Description     string
	RequestedAction MismatchAction
	ActionNotes     string
	Status          MismatchStatus
	Items           []MismatchItem
	CreatedBy       int64
	CreatedAt       time.Time
}

// MismatchItem is an immutable snapshot of a short line.
type MismatchItem struct {
	GRNLineID   int64           `json:"grn_line_id"`
	Material    Material        `json:"material"`
	OrderedQty  decimal.Decimal `json:"ordered_quantity"`
	InvoicedQty decimal.Decimal `json:"invoiced_quantity"`
	ReceivedQty decimal.Decimal `json:"received_quantity"`
	ShortageQty decimal.Decimal `json:"shortage_quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Notes       string          `json:"notes,omitempty"`
}

// InventoryCommitRecord is the write-once output of committing a GRN to stock.
type InventoryCommitRecord struct {
	ID          int64
	GRNID       int64
	Resolution  ExcessAction
	POStatus    POStatus
	CommittedBy int64
	CommittedAt time.Time
	Lines       []CommitLine
}

// CommitLine is the stock admitted for one GRN line.
type CommitLine struct {
	GRNLineID   int64
	ItemCode    string
	Material    Material
	Qty         decimal.Decimal
	Destination string
}

package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request payloads. Quantities accept JSON numbers or strings.

type grnLineRequest struct {
	POLineID    int64            `json:"po_line_id" validate:"required,gt=0"`
	InvoicedQty *decimal.Decimal `json:"invoiced_quantity"`
	ReceivedQty decimal.Decimal  `json:"received_quantity"`
	Weight      decimal.Decimal  `json:"weight"`
	Remarks     string           `json:"remarks" validate:"max=500"`
}

type createGRNRequest struct {
	POID          int64            `json:"po_id" validate:"required,gt=0"`
	ReceivedAt    time.Time        `json:"received_at"`
	InvoiceNumber string           `json:"invoice_number" validate:"max=64"`
	ChallanNumber string           `json:"challan_number" validate:"max=64"`
	Remarks       string           `json:"remarks" validate:"max=1000"`
	Draft         bool             `json:"draft"`
	Lines         []grnLineRequest `json:"lines" validate:"dive"`
}

type fulfillmentRequest struct {
	ReceivedAt    time.Time        `json:"received_at"`
	InvoiceNumber string           `json:"invoice_number" validate:"max=64"`
	ChallanNumber string           `json:"challan_number" validate:"max=64"`
	Remarks       string           `json:"remarks" validate:"max=1000"`
	Draft         bool             `json:"draft"`
	Lines         []grnLineRequest `json:"lines" validate:"dive"`
}

type grnLineUpdateRequest struct {
	LineID      int64            `json:"line_id" validate:"required,gt=0"`
	InvoicedQty *decimal.Decimal `json:"invoiced_quantity"`
	ReceivedQty *decimal.Decimal `json:"received_quantity"`
	Weight      *decimal.Decimal `json:"weight"`
	Remarks     *string          `json:"remarks" validate:"omitempty,max=500"`
}

type updateGRNRequest struct {
	ReceivedAt    *time.Time             `json:"received_at"`
	InvoiceNumber *string                `json:"invoice_number" validate:"omitempty,max=64"`
	ChallanNumber *string                `json:"challan_number" validate:"omitempty,max=64"`
	Remarks       *string                `json:"remarks" validate:"omitempty,max=1000"`
	Submit        bool                   `json:"submit"`
	Lines         []grnLineUpdateRequest `json:"lines" validate:"dive"`
}

type verifyRequest struct {
	Decision string `json:"decision" validate:"required,oneof=verify approve reject"`
	Override bool   `json:"override"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type resolveExcessRequest struct {
	Action string `json:"action" validate:"required,oneof=auto_reject approve_excess"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type mismatchRequest struct {
	RequestedAction string           `json:"requested_action" validate:"required"`
	Description     string           `json:"description" validate:"max=2000"`
	ActionNotes     string           `json:"action_notes" validate:"max=2000"`
	LineNotes       map[int64]string `json:"line_notes"`
}

type commitRequest struct {
	Location string `json:"location" validate:"max=128"`
}

func (r grnLineRequest) input() GRNLineInput {
	return GRNLineInput{POLineID: r.POLineID, InvoicedQty: r.InvoicedQty, ReceivedQty: r.ReceivedQty, Weight: r.Weight, Remarks: r.Remarks}
}

func lineInputs(reqs []grnLineRequest) []GRNLineInput {
	out := make([]GRNLineInput, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.input())
	}
	return out
}

func (r updateGRNRequest) input(actorID int64) UpdateGRNInput {
	in := UpdateGRNInput{
		ReceivedAt:    r.ReceivedAt,
		InvoiceNumber: r.InvoiceNumber,
		ChallanNumber: r.ChallanNumber,
		Remarks:       r.Remarks,
		Submit:        r.Submit,
		ActorID:       actorID,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, GRNLineUpdate{LineID: l.LineID, InvoicedQty: l.InvoicedQty, ReceivedQty: l.ReceivedQty, Weight: l.Weight, Remarks: l.Remarks})
	}
	return in
}

// Responses.

type lineResponse struct {
	ID             int64           `json:"id"`
	POLineID       int64           `json:"po_line_id"`
	LineNo         int             `json:"line_no"`
	Material       Material        `json:"material"`
	OrderedQty     decimal.Decimal `json:"ordered_quantity"`
	InvoicedQty    decimal.Decimal `json:"invoiced_quantity"`
	ReceivedQty    decimal.Decimal `json:"received_quantity"`
	Rate           decimal.Decimal `json:"rate"`
	Weight         decimal.Decimal `json:"weight"`
	Remarks        string          `json:"remarks,omitempty"`
	Classification Classification  `json:"classification"`
	ShortageQty    decimal.Decimal `json:"shortage_quantity"`
	OverageQty     decimal.Decimal `json:"overage_quantity"`
}

type summaryResponse struct {
	Counts               map[Classification]int `json:"counts"`
	AllItemsPerfectMatch bool                   `json:"all_items_perfect_match"`
	HasAnyShortage       bool                   `json:"has_any_shortage"`
	HasAnyOverage        bool                   `json:"has_any_overage"`
	HasInvoiceMismatch   bool                   `json:"has_invoice_mismatch"`
	TotalShortage        decimal.Decimal        `json:"total_shortage"`
	TotalOverage         decimal.Decimal        `json:"total_overage"`
}

type grnResponse struct {
	ID                    int64           `json:"id"`
	Number                string          `json:"number"`
	POID                  int64           `json:"po_id"`
	OriginalGRNID         *int64          `json:"original_grn_id"`
	IsShortageFulfillment bool            `json:"is_shortage_fulfillment"`
	ReceivedAt            time.Time       `json:"received_at"`
	InvoiceNumber         string          `json:"invoice_number,omitempty"`
	ChallanNumber         string          `json:"challan_number,omitempty"`
	Remarks               string          `json:"remarks,omitempty"`
	Status                GRNStatus       `json:"status"`
	InventoryAdded        bool            `json:"inventory_added"`
	InventoryAddedAt      *time.Time      `json:"inventory_added_at,omitempty"`
	VerifiedBy            int64           `json:"verified_by,omitempty"`
	VerifiedAt            *time.Time      `json:"verified_at,omitempty"`
	VerificationNotes     string          `json:"verification_notes,omitempty"`
	Lines                 []lineResponse  `json:"lines"`
	Summary               summaryResponse `json:"summary"`
}

type vendorReturnResponse struct {
	ID     int64              `json:"id"`
	Number string             `json:"number"`
	Status VendorReturnStatus `json:"status"`
	Lines  []VendorReturnLine `json:"lines"`
}

type resolutionResponse struct {
	ID           int64                 `json:"id"`
	GRNID        int64                 `json:"grn_id"`
	Action       ExcessAction          `json:"action"`
	Notes        string                `json:"notes,omitempty"`
	DecidedBy    int64                 `json:"decided_by"`
	DecidedAt    time.Time             `json:"decided_at"`
	VendorReturn *vendorReturnResponse `json:"vendor_return,omitempty"`
}

type mismatchResponse struct {
	ID              int64          `json:"id"`
	Number          string         `json:"number"`
	GRNID           int64          `json:"grn_id"`
	Description     string         `json:"description,omitempty"`
	RequestedAction MismatchAction `json:"requested_action"`
	ActionNotes     string         `json:"action_notes,omitempty"`
	Status          MismatchStatus `json:"status"`
	Items           []MismatchItem `json:"items"`
	CreatedBy       int64          `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
}

type commitLineResponse struct {
	GRNLineID   int64           `json:"grn_line_id"`
	ItemCode    string          `json:"item_code"`
	Material    Material        `json:"material"`
	Qty         decimal.Decimal `json:"quantity"`
	Destination string          `json:"destination"`
}

type commitResponse struct {
	ID          int64                `json:"id"`
	GRNID       int64                `json:"grn_id"`
	Resolution  ExcessAction         `json:"resolution,omitempty"`
	POStatus    POStatus             `json:"po_status"`
	CommittedBy int64                `json:"committed_by"`
	CommittedAt time.Time            `json:"committed_at"`
	Lines       []commitLineResponse `json:"lines"`
}

type grnViewResponse struct {
	grnResponse
	PurchaseOrder    poResponse          `json:"purchase_order"`
	Resolution       *resolutionResponse `json:"excess_resolution"`
	MismatchRequests []mismatchResponse  `json:"mismatch_requests"`
	Commit           *commitResponse     `json:"inventory_commit"`
	CanCommit        bool                `json:"can_commit"`
}

type poResponse struct {
	ID           int64    `json:"id"`
	Number       string   `json:"number"`
	VendorID     int64    `json:"vendor_id"`
	SalesOrderID *int64   `json:"sales_order_id"`
	Status       POStatus `json:"status"`
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toGRNResponse(g GoodsReceipt) grnResponse {
	resp := grnResponse{
		ID:                    g.ID,
		Number:                g.Number,
		POID:                  g.POID,
		OriginalGRNID:         optionalID(g.OriginalGRNID),
		IsShortageFulfillment: g.IsShortageFulfillment,
		ReceivedAt:            g.ReceivedAt,
		InvoiceNumber:         g.InvoiceNumber,
		ChallanNumber:         g.ChallanNumber,
		Remarks:               g.Remarks,
		Status:                g.Status,
		InventoryAdded:        g.InventoryAdded,
		InventoryAddedAt:      optionalTime(g.InventoryAddedAt),
		VerifiedBy:            g.VerifiedBy,
		VerifiedAt:            optionalTime(g.VerifiedAt),
		VerificationNotes:     g.VerificationNotes,
		Lines:                 make([]lineResponse, 0, len(g.Lines)),
		Summary:               toSummaryResponse(g.Summary()),
	}
	for _, l := range g.Lines {
		rec := l.Reconcile()
		resp.Lines = append(resp.Lines, lineResponse{
			ID:             l.ID,
			POLineID:       l.POLineID,
			LineNo:         l.LineNo,
			Material:       l.Material,
			OrderedQty:     l.OrderedQty,
			InvoicedQty:    l.InvoicedQty,
			ReceivedQty:    l.ReceivedQty,
			Rate:           l.Rate,
			Weight:         l.Weight,
			Remarks:        l.Remarks,
			Classification: rec.Classification,
			ShortageQty:    rec.Shortage,
			OverageQty:     rec.Overage,
		})
	}
	return resp
}

func toSummaryResponse(s Summary) summaryResponse {
	return summaryResponse{
		Counts:               s.Counts,
		AllItemsPerfectMatch: s.AllItemsPerfectMatch,
		HasAnyShortage:       s.HasAnyShortage,
		HasAnyOverage:        s.HasAnyOverage,
		HasInvoiceMismatch:   s.HasInvoiceMismatch,
		TotalShortage:        s.TotalShortage,
		TotalOverage:         s.TotalOverage,
	}
}

func toResolutionResponse(r ExcessResolution) resolutionResponse {
	resp := resolutionResponse{ID: r.ID, GRNID: r.GRNID, Action: r.Action, Notes: r.Notes, DecidedBy: r.DecidedBy, DecidedAt: r.DecidedAt}
	if r.VendorReturn != nil {
		resp.VendorReturn = &vendorReturnResponse{ID: r.VendorReturn.ID, Number: r.VendorReturn.Number, Status: r.VendorReturn.Status, Lines: r.VendorReturn.Lines}
	}
	return resp
}

func toMismatchResponse(m MismatchRequest) mismatchResponse {
	return mismatchResponse{
		ID:              m.ID,
		Number:          m.Number,
		GRNID:           m.GRNID,
		Description:     m.Description,
		RequestedAction: m.RequestedAction,
		ActionNotes:     m.ActionNotes,
		Status:          m.Status,
		Items:           m.Items,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
	}
}

func toCommitResponse(c InventoryCommitRecord) commitResponse {
	resp := commitResponse{ID: c.ID, GRNID: c.GRNID, Resolution: c.Resolution, POStatus: c.POStatus, CommittedBy: c.CommittedBy, CommittedAt: c.CommittedAt}
	for _, l := range c.Lines {
		resp.Lines = append(resp.Lines, commitLineResponse{GRNLineID: l.GRNLineID, ItemCode: l.ItemCode, Material: l.Material, Qty: l.Qty, Destination: l.Destination})
	}
	return resp
}

func toViewResponse(v GRNView) grnViewResponse {
	resp := grnViewResponse{
		grnResponse: toGRNResponse(v.GRN),
		PurchaseOrder: poResponse{
			ID:           v.PurchaseOrder.ID,
			Number:       v.PurchaseOrder.Number,
			VendorID:     v.PurchaseOrder.VendorID,
			SalesOrderID: optionalID(v.PurchaseOrder.SalesOrderID),
			Status:       v.PurchaseOrder.Status,
		},
		MismatchRequests: make([]mismatchResponse, 0, len(v.MismatchRequests)),
		CanCommit:        v.CanCommit,
	}
	if v.Resolution != nil {
		r := toResolutionResponse(*v.Resolution)
		resp.Resolution = &r
	}
	for _, m := range v.MismatchRequests {
		resp.MismatchRequests = append(resp.MismatchRequests, toMismatchResponse(m))
	}
	if v.Commit != nil {
		c := toCommitResponse(*v.Commit)
		resp.Commit = &c
	}
	return resp
}

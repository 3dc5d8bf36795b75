package procurement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// LockPO returns the purchase order holding a row lock for the rest of the transaction.
func (t *txRepository) LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return t.getPO(ctx, id, true)
}

// LockGRN returns the GRN holding a row lock for the rest of the transaction.
func (t *txRepository) LockGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return t.getGRN(ctx, id, true)
}

func (t *txRepository) ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	return t.listGRNs(ctx, `WHERE po_id = $1 ORDER BY id`, poID)
}

func (t *txRepository) GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error) {
	return t.getExcessResolution(ctx, grnID)
}

// CreateGRN inserts the GRN header.
func (t *txRepository) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	query := `
		INSERT INTO grns (
			number, po_id, original_grn_id, is_shortage_fulfillment, received_at,
			invoice_number, challan_number, remarks, status, created_by, created_at
		) VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		grn.Number, grn.POID, grn.OriginalGRNID, grn.IsShortageFulfillment, grn.ReceivedAt,
		grn.InvoiceNumber, grn.ChallanNumber, grn.Remarks, grn.Status, grn.CreatedBy, grn.CreatedAt,
	).Scan(&id)
	return id, err
}

// InsertGRNLine inserts a GRN line snapshot.
func (t *txRepository) InsertGRNLine(ctx context.Context, line GRNLine) (int64, error) {
	query := `
		INSERT INTO grn_lines (
			grn_id, po_line_id, line_no, material_name, material_color, material_spec, unit,
			ordered_qty, invoiced_qty, received_qty, rate, weight, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		line.GRNID, line.POLineID, line.LineNo, line.Material.Name, line.Material.Color, line.Material.Spec, line.Material.Unit,
		line.OrderedQty, line.InvoicedQty, line.ReceivedQty, line.Rate, line.Weight, line.Remarks,
	).Scan(&id)
	return id, err
}

// UpdateGRNHeader persists mutable header fields, status and verification data.
func (t *txRepository) UpdateGRNHeader(ctx context.Context, grn GoodsReceipt) error {
	var verifiedAt *time.Time
	if !grn.VerifiedAt.IsZero() {
		verifiedAt = &grn.VerifiedAt
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE grns SET received_at = $2, invoice_number = $3, challan_number = $4, remarks = $5,
			status = $6, verified_by = NULLIF($7::bigint, 0), verified_at = $8, verification_notes = $9
		WHERE id = $1
	`, grn.ID, grn.ReceivedAt, grn.InvoiceNumber, grn.ChallanNumber, grn.Remarks,
		grn.Status, grn.VerifiedBy, verifiedAt, grn.VerificationNotes)
	return err
}

// UpdateGRNLine persists the mutable quantities of a line.
func (t *txRepository) UpdateGRNLine(ctx context.Context, line GRNLine) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE grn_lines SET invoiced_qty = $2, received_qty = $3, weight = $4, remarks = $5
		WHERE id = $1
	`, line.ID, line.InvoicedQty, line.ReceivedQty, line.Weight, line.Remarks)
	return err
}

func (t *txRepository) InsertExcessResolution(ctx context.Context, res ExcessResolution) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO grn_excess_resolutions (grn_id, action, notes, decided_by, decided_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, res.GRNID, res.Action, res.Notes, res.DecidedBy, res.DecidedAt).Scan(&id)
	return id, err
}

// InsertVendorReturn inserts a return header and its lines.
func (t *txRepository) InsertVendorReturn(ctx context.Context, ret VendorReturn) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO vendor_returns (number, grn_id, po_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, ret.Number, ret.GRNID, ret.POID, ret.Status, ret.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, l := range ret.Lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO vendor_return_lines (vendor_return_id, grn_line_id, material_name, material_color, material_spec, unit, qty)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, l.GRNLineID, l.Material.Name, l.Material.Color, l.Material.Spec, l.Material.Unit, l.Qty); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// InsertMismatchRequest stores the request with its item snapshot as JSONB.
func (t *txRepository) InsertMismatchRequest(ctx context.Context, req MismatchRequest) (int64, error) {
	items, err := json.Marshal(req.Items)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `
		INSERT INTO grn_mismatch_requests (
			number, grn_id, description, requested_action, action_notes, status, items, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, req.Number, req.GRNID, req.Description, req.RequestedAction, req.ActionNotes, req.Status, items, req.CreatedBy, req.CreatedAt).Scan(&id)
	return id, err
}

// InsertCommitRecord inserts the commit header and one row per GRN line.
func (t *txRepository) InsertCommitRecord(ctx context.Context, rec InventoryCommitRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO grn_inventory_commits (grn_id, resolution, po_status, committed_by, committed_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING id
	`, rec.GRNID, string(rec.Resolution), rec.POStatus, rec.CommittedBy, rec.CommittedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, l := range rec.Lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO grn_inventory_commit_lines (
				commit_id, grn_line_id, item_code, material_name, material_color, material_spec, unit, qty, destination
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, id, l.GRNLineID, l.ItemCode, l.Material.Name, l.Material.Color, l.Material.Spec, l.Material.Unit, l.Qty, l.Destination); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// MarkInventoryAdded sets the write-once inventory flag.
func (t *txRepository) MarkInventoryAdded(ctx context.Context, grnID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE grns SET inventory_added = TRUE, inventory_added_at = $2 WHERE id = $1 AND NOT inventory_added`, grnID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCommitted
	}
	return nil
}

func (t *txRepository) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, updated_at = NOW() WHERE id = $1`, poID, status)
	return err
}

// PostInventory writes an inbound ledger entry inside this transaction.
func (t *txRepository) PostInventory(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error) {
	return t.ledger.PostInboundTx(ctx, inventory.NewTxRepository(t.tx), input)
}

// ClaimIdempotencyKey inserts key inside this transaction; a rollback releases it.
func (t *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.NewIdempotencyStore(t.tx).CheckAndInsert(ctx, key, module)
}

package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/platform/db"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *inventory.Ledger
	queries
}

// NewRepository constructs a repository. Inventory postings made during a
// commit go through ledger inside the same transaction.
func NewRepository(pool *pgxpool.Pool, ledger *inventory.Ledger) *Repository {
	if ledger == nil {
		ledger = inventory.NewLedger()
	}
	return &Repository{pool: pool, ledger: ledger, queries: queries{db: pool}}
}

type txRepository struct {
	queries
	tx     pgx.Tx
	ledger *inventory.Ledger
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}, tx: tx, ledger: r.ledger})
	})
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return r.getPO(ctx, id, false)
}

// GetGRN returns GRN with lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return r.getGRN(ctx, id, false)
}

// ListGRNsByPO returns the GRN chain of a PO ordered by creation.
func (r *Repository) ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	return r.listGRNs(ctx, `WHERE po_id = $1 ORDER BY id`, poID)
}

// GetExcessResolution returns the resolution of a GRN or ErrNotFound.
func (r *Repository) GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error) {
	return r.getExcessResolution(ctx, grnID)
}

// ListExcessCandidates returns uncommitted GRNs past draft without an excess resolution.
func (r *Repository) ListExcessCandidates(ctx context.Context, limit int) ([]GoodsReceipt, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listGRNs(ctx, `WHERE status IN ('received', 'verified', 'approved') AND NOT inventory_added
AND NOT EXISTS (SELECT 1 FROM grn_excess_resolutions r WHERE r.grn_id = grns.id)
ORDER BY id LIMIT $1`, limit)
}

// ListMismatchRequests returns every mismatch request of a GRN, oldest first.
func (r *Repository) ListMismatchRequests(ctx context.Context, grnID int64) ([]MismatchRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT id, number, grn_id, description, requested_action, action_notes, status, items, created_by, created_at
FROM grn_mismatch_requests WHERE grn_id = $1 ORDER BY id`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MismatchRequest
	for rows.Next() {
		var (
			req   MismatchRequest
			items []byte
		)
		if err := rows.Scan(&req.ID, &req.Number, &req.GRNID, &req.Description, &req.RequestedAction, &req.ActionNotes, &req.Status, &items, &req.CreatedBy, &req.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &req.Items); err != nil {
			return nil, fmt.Errorf("procurement: decode mismatch items: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// GetCommitRecord returns the inventory commit of a GRN or ErrNotFound.
func (r *Repository) GetCommitRecord(ctx context.Context, grnID int64) (InventoryCommitRecord, error) {
	var (
		rec        InventoryCommitRecord
		resolution pgtype.Text
	)
	err := r.db.QueryRow(ctx, `SELECT id, grn_id, resolution, po_status, committed_by, committed_at
FROM grn_inventory_commits WHERE grn_id = $1`, grnID).Scan(&rec.ID, &rec.GRNID, &resolution, &rec.POStatus, &rec.CommittedBy, &rec.CommittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryCommitRecord{}, ErrNotFound
		}
		return InventoryCommitRecord{}, err
	}
	rec.Resolution = ExcessAction(resolution.String)
	rows, err := r.db.Query(ctx, `SELECT grn_line_id, item_code, material_name, material_color, material_spec, unit, qty, destination
FROM grn_inventory_commit_lines WHERE commit_id = $1 ORDER BY id`, rec.ID)
	if err != nil {
		return InventoryCommitRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l CommitLine
		if err := rows.Scan(&l.GRNLineID, &l.ItemCode, &l.Material.Name, &l.Material.Color, &l.Material.Spec, &l.Material.Unit, &l.Qty, &l.Destination); err != nil {
			return InventoryCommitRecord{}, err
		}
		rec.Lines = append(rec.Lines, l)
	}
	return rec, rows.Err()
}

// queries holds the reads shared by the pool and transactional repositories.
type queries struct {
	db shared.DBTX
}

const grnColumns = `id, number, po_id, original_grn_id, is_shortage_fulfillment, received_at, invoice_number, challan_number,
remarks, status, inventory_added, inventory_added_at, verified_by, verified_at, verification_notes, created_by, created_at`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var (
		g          GoodsReceipt
		original   pgtype.Int8
		addedAt    pgtype.Timestamptz
		verifiedBy pgtype.Int8
		verifiedAt pgtype.Timestamptz
	)
	err := row.Scan(&g.ID, &g.Number, &g.POID, &original, &g.IsShortageFulfillment, &g.ReceivedAt, &g.InvoiceNumber, &g.ChallanNumber,
		&g.Remarks, &g.Status, &g.InventoryAdded, &addedAt, &verifiedBy, &verifiedAt, &g.VerificationNotes, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		return GoodsReceipt{}, err
	}
	g.OriginalGRNID = original.Int64
	g.VerifiedBy = verifiedBy.Int64
	if addedAt.Valid {
		g.InventoryAddedAt = addedAt.Time
	}
	if verifiedAt.Valid {
		g.VerifiedAt = verifiedAt.Time
	}
	return g, nil
}

func (q queries) getPO(ctx context.Context, id int64, lock bool) (PurchaseOrder, []POLine, error) {
	query := `SELECT id, number, vendor_id, sales_order_id, status FROM purchase_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		po PurchaseOrder
		so pgtype.Int8
	)
	if err := q.db.QueryRow(ctx, query, id).Scan(&po.ID, &po.Number, &po.VendorID, &so, &po.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	po.SalesOrderID = so.Int64

	rows, err := q.db.Query(ctx, `SELECT id, po_id, line_no, material_name, material_color, material_spec, unit, ordered_qty, rate
FROM purchase_order_lines WHERE po_id = $1 ORDER BY line_no, id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.POID, &l.LineNo, &l.Material.Name, &l.Material.Color, &l.Material.Spec, &l.Material.Unit, &l.OrderedQty, &l.Rate); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return po, lines, rows.Err()
}

func (q queries) getGRN(ctx context.Context, id int64, lock bool) (GoodsReceipt, error) {
	query := `SELECT ` + grnColumns + ` FROM grns WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	grn, err := scanGRN(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrNotFound
		}
		return GoodsReceipt{}, err
	}
	lines, err := q.loadLines(ctx, []int64{grn.ID})
	if err != nil {
		return GoodsReceipt{}, err
	}
	grn.Lines = lines[grn.ID]
	grn.markOutstanding()
	return grn, nil
}

func (q queries) listGRNs(ctx context.Context, where string, args ...any) ([]GoodsReceipt, error) {
	rows, err := q.db.Query(ctx, `SELECT `+grnColumns+` FROM grns `+where, args...)
	if err != nil {
		return nil, err
	}
	var (
		grns []GoodsReceipt
		ids  []int64
	)
	for rows.Next() {
		g, err := scanGRN(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		grns = append(grns, g)
		ids = append(ids, g.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return grns, nil
	}
	lines, err := q.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range grns {
		grns[i].Lines = lines[grns[i].ID]
		grns[i].markOutstanding()
	}
	return grns, nil
}

func (q queries) loadLines(ctx context.Context, grnIDs []int64) (map[int64][]GRNLine, error) {
	rows, err := q.db.Query(ctx, `SELECT id, grn_id, po_line_id, line_no, material_name, material_color, material_spec, unit,
ordered_qty, invoiced_qty, received_qty, rate, weight, remarks
FROM grn_lines WHERE grn_id = ANY($1) ORDER BY grn_id, line_no`, grnIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]GRNLine, len(grnIDs))
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.POLineID, &l.LineNo, &l.Material.Name, &l.Material.Color, &l.Material.Spec, &l.Material.Unit,
			&l.OrderedQty, &l.InvoicedQty, &l.ReceivedQty, &l.Rate, &l.Weight, &l.Remarks); err != nil {
			return nil, err
		}
		out[l.GRNID] = append(out[l.GRNID], l)
	}
	return out, rows.Err()
}

func (q queries) getExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error) {
	var res ExcessResolution
	err := q.db.QueryRow(ctx, `SELECT id, grn_id, action, notes, decided_by, decided_at
FROM grn_excess_resolutions WHERE grn_id = $1`, grnID).Scan(&res.ID, &res.GRNID, &res.Action, &res.Notes, &res.DecidedBy, &res.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExcessResolution{}, ErrNotFound
		}
		return ExcessResolution{}, err
	}
	if res.Action != ExcessAutoReject {
		return res, nil
	}
	ret, err := q.getVendorReturn(ctx, grnID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ExcessResolution{}, err
	}
	if err == nil {
		res.VendorReturn = &ret
	}
	return res, nil
}

func (q queries) getVendorReturn(ctx context.Context, grnID int64) (VendorReturn, error) {
	var ret VendorReturn
	err := q.db.QueryRow(ctx, `SELECT id, number, grn_id, po_id, status, created_at FROM vendor_returns WHERE grn_id = $1`, grnID).
		Scan(&ret.ID, &ret.Number, &ret.GRNID, &ret.POID, &ret.Status, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VendorReturn{}, ErrNotFound
		}
		return VendorReturn{}, err
	}
	rows, err := q.db.Query(ctx, `SELECT grn_line_id, material_name, material_color, material_spec, unit, qty
FROM vendor_return_lines WHERE vendor_return_id = $1 ORDER BY id`, ret.ID)
	if err != nil {
		return VendorReturn{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l VendorReturnLine
		if err := rows.Scan(&l.GRNLineID, &l.Material.Name, &l.Material.Color, &l.Material.Spec, &l.Material.Unit, &l.Qty); err != nil {
			return VendorReturn{}, err
		}
		ret.Lines = append(ret.Lines, l)
	}
	return ret, rows.Err()
}

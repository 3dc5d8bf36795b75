package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

type txRepo struct {
	db shared.DBTX
}

// NewTxRepository binds the ledger tables to an open pgx transaction.
func NewTxRepository(db shared.DBTX) TxRepository {
	return &txRepo{db: db}
}

func (r *txRepo) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_transactions (code, tx_type, destination, ref_module, ref_id, note, posted_at, created_by)
VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8) RETURNING id`,
		tx.Code, string(tx.Type), tx.Destination, tx.RefModule, tx.RefID, tx.Note, tx.PostedAt, tx.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepo) InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error {
	for _, line := range lines {
		if _, err := r.db.Exec(ctx, `INSERT INTO inventory_transaction_lines (tx_id, item_code, material_key, material_name, unit, qty, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			txID, line.ItemCode, line.MaterialKey, line.MaterialName, line.Unit, line.Qty, line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, destination, materialKey string) (Balance, error) {
	b := Balance{Destination: destination, MaterialKey: materialKey}
	err := r.db.QueryRow(ctx, `SELECT qty, avg_cost, updated_at FROM inventory_balances
WHERE destination=$1 AND material_key=$2 FOR UPDATE`, destination, materialKey).Scan(&b.Qty, &b.AvgCost, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, ErrBalanceNotFound
	}
	return b, err
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.db.Exec(ctx, `INSERT INTO inventory_balances (destination, material_key, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (destination, material_key) DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`,
		balance.Destination, balance.MaterialKey, balance.Qty, balance.AvgCost, balance.UpdatedAt)
	return err
}

package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// CommitInput admits a verified or approved GRN into stock.
type CommitInput struct {
	// Location is the warehouse location used when the PO has no linked sales order.
	Location string
	ActorID  int64
}

// CommitToInventory writes the commit record, the inventory inbound entries,
// the PO status and the GRN inventory flag in a single transaction.
func (s *Service) CommitToInventory(ctx context.Context, id int64, input CommitInput) (InventoryCommitRecord, error) {
	if err := requireActor(input.ActorID); err != nil {
		return InventoryCommitRecord{}, err
	}
	var (
		record InventoryCommitRecord
		grn    GoodsReceipt
		posted int
	)
	err := s.withLock(ctx, shared.GRNLockKey(id), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			grn, err = tx.LockGRN(ctx, id)
			if err != nil {
				return err
			}
			if grn.InventoryAdded {
				return grnError("commit", grn, ErrAlreadyCommitted, "")
			}
			// Claimed inside the transaction so it rolls back with a failed commit.
			if err := tx.ClaimIdempotencyKey(ctx, commitKey(grn), idemModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return grnError("commit", grn, ErrAlreadyCommitted, "commit key already claimed")
				}
				return err
			}
			record, posted, err = s.commitTx(ctx, tx, grn, input)
			return err
		})
	})
	if err != nil {
		return InventoryCommitRecord{}, err
	}
	s.afterCommit(ctx, grn, record, posted)
	return record, nil
}

func (s *Service) commitTx(ctx context.Context, tx TxRepository, grn GoodsReceipt, input CommitInput) (InventoryCommitRecord, int, error) {
	if !grn.Status.ReadyForCommit() {
		return InventoryCommitRecord{}, 0, grnError("commit", grn, ErrNotVerified, "")
	}
	if _, err := Transition(grn.Status, EventCommit); err != nil {
		return InventoryCommitRecord{}, 0, grnError("commit", grn, err, "")
	}
	summary := grn.Summary()
	var resolution ExcessAction
	if summary.HasAnyOverage {
		res, err := tx.GetExcessResolution(ctx, grn.ID)
		if errors.Is(err, ErrNotFound) {
			return InventoryCommitRecord{}, 0, grnError("commit", grn, ErrOverageUnresolved, "")
		}
		if err != nil {
			return InventoryCommitRecord{}, 0, err
		}
		resolution = res.Action
	}
	po, _, err := tx.LockPO(ctx, grn.POID)
	if err != nil {
		return InventoryCommitRecord{}, 0, err
	}
	dest, err := destinationFor(po, input.Location)
	if err != nil {
		return InventoryCommitRecord{}, 0, err
	}

	now := s.now()
	record := InventoryCommitRecord{
		GRNID:       grn.ID,
		Resolution:  resolution,
		POStatus:    nextPOStatus(resolution, summary),
		CommittedBy: input.ActorID,
		CommittedAt: now,
	}
	ref := shared.RefID(approvalModule, grn.ID).String()
	posted := 0
	for _, line := range grn.Lines {
		qty := committedQuantity(line, resolution)
		cl := CommitLine{GRNLineID: line.ID, ItemCode: newItemCode(), Material: line.Material, Qty: qty, Destination: dest}
		record.Lines = append(record.Lines, cl)
		if !qty.IsPositive() {
			continue
		}
		_, err := tx.PostInventory(ctx, inventory.InboundInput{
			Code:         fmt.Sprintf("%s-L%d", grn.Number, line.LineNo),
			ItemCode:     cl.ItemCode,
			Destination:  dest,
			MaterialKey:  line.Material.Key(),
			MaterialName: line.Material.Name,
			Unit:         line.Material.Unit,
			Qty:          qty,
			UnitCost:     line.Rate,
			Note:         grn.Number,
			ActorID:      input.ActorID,
			RefModule:    approvalModule,
			RefID:        ref,
		})
		if err != nil {
			return InventoryCommitRecord{}, 0, fmt.Errorf("procurement: post inventory line %d: %w", line.LineNo, err)
		}
		posted++
	}
	if record.POStatus != po.Status {
		if err := tx.UpdatePOStatus(ctx, po.ID, record.POStatus); err != nil {
			return InventoryCommitRecord{}, 0, err
		}
	}
	if record.ID, err = tx.InsertCommitRecord(ctx, record); err != nil {
		return InventoryCommitRecord{}, 0, err
	}
	if err := tx.MarkInventoryAdded(ctx, grn.ID, now); err != nil {
		return InventoryCommitRecord{}, 0, err
	}
	return record, posted, nil
}

func (s *Service) afterCommit(ctx context.Context, grn GoodsReceipt, record InventoryCommitRecord, posted int) {
	s.metrics.observeTransition(EventCommit)
	s.metrics.observeCommit(record.Resolution, posted)
	total := decimal.Zero
	dest := ""
	for _, l := range record.Lines {
		total = total.Add(l.Qty)
		dest = l.Destination
	}
	s.recordAudit(ctx, record.CommittedBy, "GRN_COMMIT", grn.ID, map[string]any{
		"po_status":   record.POStatus,
		"resolution":  record.Resolution,
		"destination": dest,
		"total_qty":   total.String(),
	})
	s.logger.Info("grn committed to inventory",
		slog.Int64("grn_id", grn.ID),
		slog.String("po_status", string(record.POStatus)),
		slog.Int("posted_lines", posted))
	if s.events == nil {
		return
	}
	evt := GRNCommittedEvent{
		GRNID:       grn.ID,
		Number:      grn.Number,
		POID:        grn.POID,
		POStatus:    record.POStatus,
		Resolution:  record.Resolution,
		Destination: dest,
		TotalQty:    total,
		Lines:       len(record.Lines),
		CommittedAt: record.CommittedAt,
	}
	if err := s.events.PublishCommitted(ctx, evt); err != nil {
		s.logger.Warn("publish grn committed", slog.Int64("grn_id", grn.ID), slog.Any("error", err))
	}
}

// committedQuantity is the stock admitted for a line under the given resolution.
func committedQuantity(line GRNLine, resolution ExcessAction) decimal.Decimal {
	if resolution == ExcessAutoReject {
		return MatchedQuantity(line)
	}
	return line.ReceivedQty
}

// nextPOStatus derives the PO status after a commit. Under auto_reject the
// returned overage does not count, so shortages alone decide.
func nextPOStatus(resolution ExcessAction, summary Summary) POStatus {
	switch {
	case resolution == ExcessApproveExcess:
		return POStatusExcessReceived
	case summary.HasAnyShortage:
		return POStatusPartiallyReceived
	default:
		return POStatusCompleted
	}
}

func destinationFor(po PurchaseOrder, location string) (string, error) {
	if po.SalesOrderID != 0 {
		return inventory.ProjectDestination(po.SalesOrderID), nil
	}
	if strings.TrimSpace(location) == "" {
		return "", validationError("location", "required when the purchase order has no sales order")
	}
	return inventory.WarehouseDestination(location), nil
}

func newItemCode() string {
	return "ITM-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func commitKey(grn GoodsReceipt) string {
	return fmt.Sprintf("GRN:%s:commit", grn.Number)
}

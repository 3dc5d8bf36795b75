package procurement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// ResolveExcessInput chooses the over-delivery policy for a GRN.
type ResolveExcessInput struct {
	Action  ExcessAction
	Notes   string
	ActorID int64
}

// ResolveExcess records the write-once excess decision. auto_reject also
// raises a vendor return for exactly the overage of each affected line.
func (s *Service) ResolveExcess(ctx context.Context, id int64, input ResolveExcessInput) (ExcessResolution, error) {
	if !input.Action.IsValid() {
		return ExcessResolution{}, validationError("action", "must be auto_reject or approve_excess")
	}
	if err := requireActor(input.ActorID); err != nil {
		return ExcessResolution{}, err
	}
	var (
		res ExcessResolution
		grn GoodsReceipt
	)
	err := s.withLock(ctx, shared.GRNLockKey(id), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			grn, err = tx.LockGRN(ctx, id)
			if err != nil {
				return err
			}
			if grn.InventoryAdded {
				return grnError("resolve_excess", grn, ErrAlreadyCommitted, "")
			}
			switch grn.Status {
			case GRNStatusReceived, GRNStatusVerified, GRNStatusApproved:
			default:
				return grnError("resolve_excess", grn, ErrInvalidTransition, "excess can only be resolved on a received, verified or approved grn")
			}
			if _, err := tx.GetExcessResolution(ctx, grn.ID); err == nil {
				return grnError("resolve_excess", grn, ErrAlreadyResolved, "")
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			if !grn.Summary().HasAnyOverage {
				return grnError("resolve_excess", grn, ErrNoOverage, "")
			}
			res = ExcessResolution{
				GRNID:     grn.ID,
				Action:    input.Action,
				Notes:     input.Notes,
				DecidedBy: input.ActorID,
				DecidedAt: s.now(),
			}
			res.ID, err = tx.InsertExcessResolution(ctx, res)
			if err != nil {
				return err
			}
			if input.Action != ExcessAutoReject {
				return nil
			}
			ret := s.buildVendorReturn(grn)
			ret.ID, err = tx.InsertVendorReturn(ctx, ret)
			if err != nil {
				return err
			}
			res.VendorReturn = &ret
			return nil
		})
	})
	if err != nil {
		return ExcessResolution{}, err
	}
	s.metrics.observeResolution(res.Action)
	s.recordApproval(ctx, grn.ID, input.ActorID, shared.ApprovalResolveExcess, string(res.Action)+": "+res.Notes)
	meta := map[string]any{"action": res.Action, "notes": res.Notes}
	if res.VendorReturn != nil {
		meta["vendor_return"] = res.VendorReturn.Number
	}
	s.recordAudit(ctx, input.ActorID, "GRN_EXCESS_RESOLVE", grn.ID, meta)
	if res.VendorReturn != nil && s.events != nil {
		evt := VendorReturnEvent{ReturnID: res.VendorReturn.ID, Number: res.VendorReturn.Number, GRNID: grn.ID, POID: grn.POID, Lines: res.VendorReturn.Lines}
		if err := s.events.PublishVendorReturn(ctx, evt); err != nil {
			s.logger.Warn("publish vendor return", slog.Int64("grn_id", grn.ID), slog.Any("error", err))
		}
	}
	return res, nil
}

func (s *Service) buildVendorReturn(grn GoodsReceipt) VendorReturn {
	ret := VendorReturn{
		Number:    s.generateNumber("VRN"),
		GRNID:     grn.ID,
		POID:      grn.POID,
		Status:    VendorReturnPending,
		CreatedAt: s.now(),
	}
	for _, line := range grn.Lines {
		over := line.Reconcile().Overage
		if !over.IsPositive() {
			continue
		}
		ret.Lines = append(ret.Lines, VendorReturnLine{GRNLineID: line.ID, Material: line.Material, Qty: over})
	}
	return ret
}

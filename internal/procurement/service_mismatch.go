package procurement

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

// MismatchInput files a shortage request against a GRN.
type MismatchInput struct {
	RequestedAction MismatchAction
	Description     string
	ActionNotes     string
	// LineNotes annotates individual snapshot items, keyed by GRN line id.
	LineNotes map[int64]string
	ActorID   int64
}

// CreateMismatchRequest snapshots the shortage lines of a GRN into a new request.
// It does not change the GRN status and never blocks commit.
func (s *Service) CreateMismatchRequest(ctx context.Context, id int64, input MismatchInput) (MismatchRequest, error) {
	if !input.RequestedAction.IsValid() {
		return MismatchRequest{}, validationError("requested_action", "unknown action")
	}
	if input.RequestedAction == MismatchOther && strings.TrimSpace(input.ActionNotes) == "" {
		return MismatchRequest{}, validationError("action_notes", "required when requested action is other")
	}
	if err := requireActor(input.ActorID); err != nil {
		return MismatchRequest{}, err
	}
	var req MismatchRequest
	err := s.withLock(ctx, shared.GRNLockKey(id), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			grn, err := tx.LockGRN(ctx, id)
			if err != nil {
				return err
			}
			if grn.Status == GRNStatusDraft || grn.Status == GRNStatusRejected {
				return grnError("mismatch_request", grn, ErrInvalidTransition, "grn must be received before raising a mismatch")
			}
			short := ShortageLines(grn.Lines)
			if len(short) == 0 {
				return grnError("mismatch_request", grn, ErrNoShortage, "")
			}
			req = MismatchRequest{
				Number:          s.generateNumber("MMR"),
				GRNID:           grn.ID,
				Description:     input.Description,
				RequestedAction: input.RequestedAction,
				ActionNotes:     input.ActionNotes,
				Status:          MismatchStatusOpen,
				CreatedBy:       input.ActorID,
				CreatedAt:       s.now(),
				Items:           snapshotShortage(short, input.LineNotes),
			}
			req.ID, err = tx.InsertMismatchRequest(ctx, req)
			return err
		})
	})
	if err != nil {
		return MismatchRequest{}, err
	}
	s.recordAudit(ctx, input.ActorID, "GRN_MISMATCH_REQUEST", req.GRNID, map[string]any{
		"number":           req.Number,
		"requested_action": req.RequestedAction,
		"items":            len(req.Items),
	})
	if s.events != nil {
		evt := MismatchRaisedEvent{RequestID: req.ID, Number: req.Number, GRNID: req.GRNID, RequestedAction: req.RequestedAction, Items: len(req.Items)}
		if err := s.events.PublishMismatchRaised(ctx, evt); err != nil {
			s.logger.Warn("publish mismatch request", slog.Int64("grn_id", req.GRNID), slog.Any("error", err))
		}
	}
	return req, nil
}

func snapshotShortage(lines []GRNLine, notes map[int64]string) []MismatchItem {
	items := make([]MismatchItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, MismatchItem{
			GRNLineID:   line.ID,
			Material:    line.Material,
			OrderedQty:  line.OrderedQty,
			InvoicedQty: line.InvoicedQty,
			ReceivedQty: line.ReceivedQty,
			ShortageQty: line.Reconcile().Shortage,
			Rate:        line.Rate,
			Notes:       notes[line.ID],
		})
	}
	return items
}

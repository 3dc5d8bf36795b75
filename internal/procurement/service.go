package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

const (
	auditEntity    = "grn"
	approvalModule = "GRN"
	idemModule     = "procurement"

	defaultLockTTL = 15 * time.Second
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error)
	GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error)
	ListMismatchRequests(ctx context.Context, grnID int64) ([]MismatchRequest, error)
	GetCommitRecord(ctx context.Context, grnID int64) (InventoryCommitRecord, error)
	ListExcessCandidates(ctx context.Context, limit int) ([]GoodsReceipt, error)
}

// TxRepository exposes transactional operations. Lock* methods take row locks
// held until the transaction ends.
type TxRepository interface {
	LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	LockGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line GRNLine) (int64, error)
	UpdateGRNHeader(ctx context.Context, grn GoodsReceipt) error
	UpdateGRNLine(ctx context.Context, line GRNLine) error
	GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error)
	InsertExcessResolution(ctx context.Context, res ExcessResolution) (int64, error)
	InsertVendorReturn(ctx context.Context, ret VendorReturn) (int64, error)
	InsertMismatchRequest(ctx context.Context, req MismatchRequest) (int64, error)
	InsertCommitRecord(ctx context.Context, rec InventoryCommitRecord) (int64, error)
	MarkInventoryAdded(ctx context.Context, grnID int64, at time.Time) error
	UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error
	PostInventory(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error)
	// ClaimIdempotencyKey fails with shared.ErrIdempotencyConflict when the key exists.
	ClaimIdempotencyKey(ctx context.Context, key, module string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records reviewer decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Dependencies are the optional collaborators of Service. Nil fields disable
// the corresponding behaviour.
type Dependencies struct {
	Locker    shared.Locker
	LockTTL   time.Duration
	Approvals ApprovalPort
	Audit     AuditPort
	Events    EventPublisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service orchestrates GRN matching flows.
type Service struct {
	repo      RepositoryPort
	locker    shared.Locker
	lockTTL   time.Duration
	approvals ApprovalPort
	audit     AuditPort
	events    EventPublisher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, deps Dependencies) *Service {
	s := &Service{
		repo:      repo,
		locker:    deps.Locker,
		lockTTL:   deps.LockTTL,
		approvals: deps.Approvals,
		audit:     deps.Audit,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateGRNInput describes GRN creation.
type CreateGRNInput struct {
	POID          int64
	ReceivedAt    time.Time
	InvoiceNumber string
	ChallanNumber string
	Remarks       string
	Draft         bool
	ActorID       int64
	Lines         []GRNLineInput
}

// GRNLineInput carries counted quantities for one PO line. A nil InvoicedQty
// defaults to the line's ordered quantity.
type GRNLineInput struct {
	POLineID    int64
	InvoicedQty *decimal.Decimal
	ReceivedQty decimal.Decimal
	Weight      decimal.Decimal
	Remarks     string
}

// UpdateGRNInput patches an editable GRN. Nil pointers leave fields unchanged.
type UpdateGRNInput struct {
	ReceivedAt    *time.Time
	InvoiceNumber *string
	ChallanNumber *string
	Remarks       *string
	Lines         []GRNLineUpdate
	Submit        bool
	ActorID       int64
}

// GRNLineUpdate patches a single GRN line.
type GRNLineUpdate struct {
	LineID      int64
	InvoicedQty *decimal.Decimal
	ReceivedQty *decimal.Decimal
	Weight      *decimal.Decimal
	Remarks     *string
}

// VerifyInput is the reviewer decision on a received GRN.
type VerifyInput struct {
	Decision VerifyDecision
	Override bool
	Notes    string
	ActorID  int64
}

// CreateGRN records the first receipt against a purchase order.
func (s *Service) CreateGRN(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	if input.POID == 0 {
		return GoodsReceipt{}, validationError("po_id", "required")
	}
	if err := requireActor(input.ActorID); err != nil {
		return GoodsReceipt{}, err
	}
	var created GoodsReceipt
	err := s.withLock(ctx, shared.POLockKey(input.POID), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, poLines, err := tx.LockPO(ctx, input.POID)
			if err != nil {
				return err
			}
			existing, err := tx.ListGRNsByPO(ctx, po.ID)
			if err != nil {
				return err
			}
			if latest, ok := latestActive(existing); ok {
				return grnError("create", latest, ErrInvalidTransition, "purchase order already has a goods receipt; use shortage fulfillment")
			}
			lines, err := buildRootLines(poLines, input.Lines)
			if err != nil {
				return err
			}
			grn := s.newGRN(po.ID, input.ReceivedAt, input.InvoiceNumber, input.ChallanNumber, input.Remarks, input.Draft, input.ActorID)
			created, err = s.insertGRN(ctx, tx, grn, lines)
			return err
		})
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.afterCreate(ctx, created)
	return created, nil
}

// UpdateGRN edits quantities and header fields of a draft or received GRN.
// Submit moves a draft GRN to received.
func (s *Service) UpdateGRN(ctx context.Context, id int64, input UpdateGRNInput) (GoodsReceipt, error) {
	if err := requireActor(input.ActorID); err != nil {
		return GoodsReceipt{}, err
	}
	var (
		updated GoodsReceipt
		from    GRNStatus
	)
	err := s.withLock(ctx, shared.GRNLockKey(id), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			grn, err := tx.LockGRN(ctx, id)
			if err != nil {
				return err
			}
			from = grn.Status
			if grn.InventoryAdded || !grn.Status.Editable() {
				return grnError("update", grn, ErrNotEditable, "")
			}
			if len(input.Lines) > 0 {
				if _, err := tx.GetExcessResolution(ctx, grn.ID); err == nil {
					return grnError("update", grn, ErrNotEditable, "excess already resolved")
				} else if !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			applyHeader(&grn, input)
			changed, err := applyLineUpdates(grn.Lines, input.Lines)
			if err != nil {
				return err
			}
			if err := requireReceived(grn.Lines); err != nil {
				return err
			}
			if input.Submit {
				next, err := Transition(grn.Status, EventSubmit)
				if err != nil {
					return grnError("update", grn, err, "")
				}
				grn.Status = next
			}
			for _, idx := range changed {
				if err := tx.UpdateGRNLine(ctx, grn.Lines[idx]); err != nil {
					return err
				}
			}
			if err := tx.UpdateGRNHeader(ctx, grn); err != nil {
				return err
			}
			updated = grn
			return nil
		})
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.metrics.observeSummary(updated.Lines)
	s.recordAudit(ctx, input.ActorID, "GRN_UPDATE", updated.ID, map[string]any{"status": updated.Status, "lines": len(input.Lines)})
	if from != updated.Status {
		s.metrics.observeTransition(EventSubmit)
		s.publishStatus(ctx, updated, from, input.ActorID, "")
	}
	return updated, nil
}

// VerifyGRN applies a reviewer decision to a received GRN.
func (s *Service) VerifyGRN(ctx context.Context, id int64, input VerifyInput) (GoodsReceipt, error) {
	if err := requireActor(input.ActorID); err != nil {
		return GoodsReceipt{}, err
	}
	event, ok := input.Decision.event()
	if !ok {
		return GoodsReceipt{}, validationError("decision", "must be verify, approve or reject")
	}
	var (
		verified GoodsReceipt
		from     GRNStatus
	)
	err := s.withLock(ctx, shared.GRNLockKey(id), func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			grn, err := tx.LockGRN(ctx, id)
			if err != nil {
				return err
			}
			from = grn.Status
			next, err := Transition(grn.Status, event)
			if err != nil {
				return grnError("verify", grn, err, "")
			}
			summary := grn.Summary()
			switch event {
			case EventVerify:
				if !summary.AllItemsPerfectMatch && !input.Override {
					return grnError("verify", grn, ErrInvalidTransition, "discrepancies present; override or approve required")
				}
				if input.Override && input.Notes == "" {
					return validationError("notes", "required for override")
				}
			case EventApprove:
				if !summary.HasDiscrepancy() {
					return grnError("verify", grn, ErrInvalidTransition, "no discrepancies to approve; verify instead")
				}
				if input.Notes == "" {
					return validationError("notes", "required when approving discrepancies")
				}
			}
			grn.Status = next
			grn.VerifiedBy = input.ActorID
			grn.VerifiedAt = s.now()
			grn.VerificationNotes = input.Notes
			if err := tx.UpdateGRNHeader(ctx, grn); err != nil {
				return err
			}
			verified = grn
			return nil
		})
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.metrics.observeTransition(event)
	s.recordApproval(ctx, verified.ID, input.ActorID, approvalAction(event), input.Notes)
	s.recordAudit(ctx, input.ActorID, "GRN_"+string(verified.Status), verified.ID, map[string]any{
		"from":     from,
		"override": input.Override,
		"notes":    input.Notes,
	})
	s.publishStatus(ctx, verified, from, input.ActorID, input.Notes)
	return verified, nil
}

// ListGRNsByPO returns every GRN of a purchase order, root first.
func (s *Service) ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	if _, _, err := s.repo.GetPO(ctx, poID); err != nil {
		return nil, err
	}
	return s.repo.ListGRNsByPO(ctx, poID)
}

func (s *Service) newGRN(poID int64, receivedAt time.Time, invoice, challan, remarks string, draft bool, actorID int64) GoodsReceipt {
	status := GRNStatusReceived
	if draft {
		status = GRNStatusDraft
	}
	now := s.now()
	if receivedAt.IsZero() {
		receivedAt = now
	}
	return GoodsReceipt{
		Number:        s.generateNumber("GRN"),
		POID:          poID,
		ReceivedAt:    receivedAt,
		InvoiceNumber: invoice,
		ChallanNumber: challan,
		Remarks:       remarks,
		Status:        status,
		CreatedBy:     actorID,
		CreatedAt:     now,
	}
}

func (s *Service) insertGRN(ctx context.Context, tx TxRepository, grn GoodsReceipt, lines []GRNLine) (GoodsReceipt, error) {
	id, err := tx.CreateGRN(ctx, grn)
	if err != nil {
		return GoodsReceipt{}, err
	}
	grn.ID = id
	for i := range lines {
		lines[i].GRNID = id
		lines[i].LineNo = i + 1
		lineID, err := tx.InsertGRNLine(ctx, lines[i])
		if err != nil {
			return GoodsReceipt{}, err
		}
		lines[i].ID = lineID
	}
	grn.Lines = lines
	return grn, nil
}

func (s *Service) afterCreate(ctx context.Context, grn GoodsReceipt) {
	s.metrics.observeSummary(grn.Lines)
	summary := grn.Summary()
	s.recordAudit(ctx, grn.CreatedBy, "GRN_CREATE", grn.ID, map[string]any{
		"number":                  grn.Number,
		"po_id":                   grn.POID,
		"status":                  grn.Status,
		"original_grn_id":         grn.OriginalGRNID,
		"is_shortage_fulfillment": grn.IsShortageFulfillment,
		"perfect_match":           summary.AllItemsPerfectMatch,
	})
	s.logger.Info("grn created",
		slog.Int64("grn_id", grn.ID),
		slog.String("number", grn.Number),
		slog.Bool("shortage", summary.HasAnyShortage),
		slog.Bool("overage", summary.HasAnyOverage))
}

// buildRootLines snapshots every PO line into a GRN line, applying counted quantities.
func buildRootLines(poLines []POLine, inputs []GRNLineInput) ([]GRNLine, error) {
	if len(poLines) == 0 {
		return nil, validationError("po_id", "purchase order has no lines")
	}
	byPOLine, err := indexLineInputs(inputs)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]bool, len(poLines))
	lines := make([]GRNLine, 0, len(poLines))
	for _, pl := range poLines {
		known[pl.ID] = true
		line := GRNLine{
			POLineID:    pl.ID,
			Material:    pl.Material,
			OrderedQty:  pl.OrderedQty,
			InvoicedQty: pl.OrderedQty,
			ReceivedQty: decimal.Zero,
			Rate:        pl.Rate,
			Weight:      decimal.Zero,
		}
		if in, ok := byPOLine[pl.ID]; ok {
			applyLineInput(&line, in)
		}
		lines = append(lines, line)
	}
	for id := range byPOLine {
		if !known[id] {
			return nil, validationError("lines", fmt.Sprintf("po line %d does not belong to purchase order", id))
		}
	}
	if err := checkQuantities(lines); err != nil {
		return nil, err
	}
	return lines, requireReceived(lines)
}

func indexLineInputs(inputs []GRNLineInput) (map[int64]GRNLineInput, error) {
	out := make(map[int64]GRNLineInput, len(inputs))
	for _, in := range inputs {
		if in.POLineID == 0 {
			return nil, validationError("lines", "po_line_id required")
		}
		if _, dup := out[in.POLineID]; dup {
			return nil, validationError("lines", fmt.Sprintf("po line %d listed twice", in.POLineID))
		}
		out[in.POLineID] = in
	}
	return out, nil
}

func applyLineInput(line *GRNLine, in GRNLineInput) {
	if in.InvoicedQty != nil {
		line.InvoicedQty = *in.InvoicedQty
	}
	line.ReceivedQty = in.ReceivedQty
	line.Weight = in.Weight
	line.Remarks = in.Remarks
}

func applyHeader(grn *GoodsReceipt, input UpdateGRNInput) {
	if input.ReceivedAt != nil && !input.ReceivedAt.IsZero() {
		grn.ReceivedAt = *input.ReceivedAt
	}
	if input.InvoiceNumber != nil {
		grn.InvoiceNumber = *input.InvoiceNumber
	}
	if input.ChallanNumber != nil {
		grn.ChallanNumber = *input.ChallanNumber
	}
	if input.Remarks != nil {
		grn.Remarks = *input.Remarks
	}
}

// applyLineUpdates mutates lines in place and returns the indexes touched.
func applyLineUpdates(lines []GRNLine, updates []GRNLineUpdate) ([]int, error) {
	index := make(map[int64]int, len(lines))
	for i, line := range lines {
		index[line.ID] = i
	}
	seen := make(map[int64]bool, len(updates))
	changed := make([]int, 0, len(updates))
	for _, u := range updates {
		i, ok := index[u.LineID]
		if !ok {
			return nil, validationError("lines", fmt.Sprintf("line %d does not belong to grn", u.LineID))
		}
		if seen[u.LineID] {
			return nil, validationError("lines", fmt.Sprintf("line %d listed twice", u.LineID))
		}
		seen[u.LineID] = true
		if u.InvoicedQty != nil {
			lines[i].InvoicedQty = *u.InvoicedQty
		}
		if u.ReceivedQty != nil {
			lines[i].ReceivedQty = *u.ReceivedQty
		}
		if u.Weight != nil {
			lines[i].Weight = *u.Weight
		}
		if u.Remarks != nil {
			lines[i].Remarks = *u.Remarks
		}
		changed = append(changed, i)
	}
	return changed, checkQuantities(lines)
}

// Quantities are stored as NUMERIC(18,4).
const quantityScale = 4

var quantityLimit = decimal.New(1, 18-quantityScale)

func checkQuantities(lines []GRNLine) error {
	for _, line := range lines {
		field := fmt.Sprintf("lines[%d]", line.POLineID)
		for _, q := range []struct {
			name  string
			value decimal.Decimal
		}{
			{"invoiced_quantity", line.InvoicedQty},
			{"received_quantity", line.ReceivedQty},
			{"weight", line.Weight},
		} {
			switch {
			case q.value.IsNegative():
				return quantityError(field+"."+q.name, "must not be negative")
			case !q.value.Equal(q.value.Truncate(quantityScale)):
				return quantityError(field+"."+q.name, fmt.Sprintf("at most %d decimal places", quantityScale))
			case q.value.GreaterThanOrEqual(quantityLimit):
				return quantityError(field+"."+q.name, "too large")
			}
		}
	}
	return nil
}

func requireReceived(lines []GRNLine) error {
	for _, line := range lines {
		if line.ReceivedQty.IsPositive() {
			return nil
		}
	}
	return quantityError("lines", "at least one line must have a received quantity")
}

func requireActor(actorID int64) error {
	if actorID == 0 {
		return validationError("actor_id", "required")
	}
	return nil
}

// latestActive returns the most recent GRN that was not rejected.
func latestActive(grns []GoodsReceipt) (GoodsReceipt, bool) {
	for i := len(grns) - 1; i >= 0; i-- {
		if grns[i].Status != GRNStatusRejected {
			return grns[i], true
		}
	}
	return GoodsReceipt{}, false
}

// rootOf returns the first non-rejected GRN without a parent.
func rootOf(grns []GoodsReceipt) (GoodsReceipt, bool) {
	for _, g := range grns {
		if g.Status != GRNStatusRejected && g.IsRoot() {
			return g, true
		}
	}
	return GoodsReceipt{}, false
}

func approvalAction(event Event) shared.ApprovalAction {
	switch event {
	case EventApprove:
		return shared.ApprovalApprove
	case EventReject:
		return shared.ApprovalReject
	default:
		return shared.ApprovalVerify
	}
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if errors.Is(err, shared.ErrLockBusy) {
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}()
	return fn()
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, grnID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: auditEntity, EntityID: shared.EntityRef(grnID), Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Int64("grn_id", grnID), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, grnID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	log := shared.ApprovalLog{Module: approvalModule, RefID: shared.RefID(approvalModule, grnID), ActorID: actorID, Action: action, Note: note, At: s.now()}
	if err := s.approvals.Record(ctx, log); err != nil {
		s.logger.Warn("record approval", slog.Int64("grn_id", grnID), slog.Any("error", err))
	}
}

func (s *Service) publishStatus(ctx context.Context, grn GoodsReceipt, from GRNStatus, actorID int64, notes string) {
	if s.events == nil {
		return
	}
	evt := GRNStatusChangedEvent{GRNID: grn.ID, Number: grn.Number, POID: grn.POID, From: from, To: grn.Status, ActorID: actorID, Notes: notes, ChangedAt: s.now()}
	if err := s.events.PublishStatusChanged(ctx, evt); err != nil {
		s.logger.Warn("publish grn status", slog.Int64("grn_id", grn.ID), slog.Any("error", err))
	}
}

func (s *Service) generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.now().UnixNano())
}

package procurement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-grn/internal/inventory"
	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

type memoryState struct {
	pos         map[int64]PurchaseOrder
	poLines     map[int64][]POLine
	grns        map[int64]GoodsReceipt
	resolutions map[int64]ExcessResolution
	returns     map[int64]VendorReturn
	requests    map[int64][]MismatchRequest
	commits     map[int64]InventoryCommitRecord
	postings    []inventory.InboundInput
	keys        map[string]string
	nextID      int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		pos:         make(map[int64]PurchaseOrder, len(s.pos)),
		poLines:     make(map[int64][]POLine, len(s.poLines)),
		grns:        make(map[int64]GoodsReceipt, len(s.grns)),
		resolutions: make(map[int64]ExcessResolution, len(s.resolutions)),
		returns:     make(map[int64]VendorReturn, len(s.returns)),
		requests:    make(map[int64][]MismatchRequest, len(s.requests)),
		commits:     make(map[int64]InventoryCommitRecord, len(s.commits)),
		postings:    append([]inventory.InboundInput(nil), s.postings...),
		keys:        make(map[string]string, len(s.keys)),
		nextID:      s.nextID,
	}
	for k, v := range s.pos {
		out.pos[k] = v
	}
	for k, v := range s.poLines {
		out.poLines[k] = append([]POLine(nil), v...)
	}
	for k, v := range s.grns {
		out.grns[k] = copyGRN(v)
	}
	for k, v := range s.resolutions {
		out.resolutions[k] = v
	}
	for k, v := range s.returns {
		out.returns[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = append([]MismatchRequest(nil), v...)
	}
	for k, v := range s.commits {
		out.commits[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	return out
}

func copyGRN(g GoodsReceipt) GoodsReceipt {
	g.Lines = append([]GRNLine(nil), g.Lines...)
	return g
}

// memoryRepo implements RepositoryPort; WithTx restores the previous state when fn fails.
type memoryRepo struct {
	mu        sync.Mutex
	state     memoryState
	failPost  error
	postCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) id() int64 {
	r.state.nextID++
	return r.state.nextID
}

func (r *memoryRepo) addPO(salesOrderID int64, lines ...POLine) PurchaseOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	po := PurchaseOrder{ID: r.id(), Number: "PO-1", VendorID: 9, SalesOrderID: salesOrderID, Status: POStatusIssued}
	r.state.pos[po.ID] = po
	for i := range lines {
		lines[i].ID = r.id()
		lines[i].POID = po.ID
		lines[i].LineNo = i + 1
	}
	r.state.poLines[po.ID] = lines
	return po
}

func (r *memoryRepo) grn(id int64) GoodsReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyGRN(r.state.grns[id])
}

func (r *memoryRepo) po(id int64) PurchaseOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.pos[id]
}

func (r *memoryRepo) idempotencyKeys() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone().keys
}

func (r *memoryRepo) postings() []inventory.InboundInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inventory.InboundInput(nil), r.state.postings...)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getPO(id)
}

func (r *memoryRepo) getPO(id int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.state.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POLine(nil), r.state.poLines[id]...), nil
}

func (r *memoryRepo) GetGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getGRN(id)
}

func (r *memoryRepo) getGRN(id int64) (GoodsReceipt, error) {
	g, ok := r.state.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	return copyGRN(g), nil
}

func (r *memoryRepo) ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listByPO(poID), nil
}

func (r *memoryRepo) listByPO(poID int64) []GoodsReceipt {
	var out []GoodsReceipt
	for _, g := range r.state.grns {
		if g.POID == poID {
			out = append(out, copyGRN(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getResolution(grnID)
}

func (r *memoryRepo) getResolution(grnID int64) (ExcessResolution, error) {
	res, ok := r.state.resolutions[grnID]
	if !ok {
		return ExcessResolution{}, ErrNotFound
	}
	if ret, ok := r.state.returns[grnID]; ok {
		res.VendorReturn = &ret
	}
	return res, nil
}

func (r *memoryRepo) ListMismatchRequests(ctx context.Context, grnID int64) ([]MismatchRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MismatchRequest(nil), r.state.requests[grnID]...), nil
}

func (r *memoryRepo) GetCommitRecord(ctx context.Context, grnID int64) (InventoryCommitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.state.commits[grnID]
	if !ok {
		return InventoryCommitRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ListExcessCandidates(ctx context.Context, limit int) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []GoodsReceipt
	for _, g := range r.state.grns {
		if g.InventoryAdded || g.Status == GRNStatusDraft || g.Status == GRNStatusRejected {
			continue
		}
		if _, ok := r.state.resolutions[g.ID]; ok {
			continue
		}
		out = append(out, copyGRN(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryTx runs with memoryRepo.mu held by WithTx.
type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return t.repo.getPO(id)
}

func (t *memoryTx) LockGRN(ctx context.Context, id int64) (GoodsReceipt, error) {
	return t.repo.getGRN(id)
}

func (t *memoryTx) ListGRNsByPO(ctx context.Context, poID int64) ([]GoodsReceipt, error) {
	return t.repo.listByPO(poID), nil
}

func (t *memoryTx) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	grn.ID = t.repo.id()
	grn.Lines = nil
	t.repo.state.grns[grn.ID] = grn
	return grn.ID, nil
}

func (t *memoryTx) InsertGRNLine(ctx context.Context, line GRNLine) (int64, error) {
	g, ok := t.repo.state.grns[line.GRNID]
	if !ok {
		return 0, ErrNotFound
	}
	line.ID = t.repo.id()
	g.Lines = append(g.Lines, line)
	t.repo.state.grns[g.ID] = g
	return line.ID, nil
}

func (t *memoryTx) UpdateGRNHeader(ctx context.Context, grn GoodsReceipt) error {
	stored, ok := t.repo.state.grns[grn.ID]
	if !ok {
		return ErrNotFound
	}
	stored.ReceivedAt = grn.ReceivedAt
	stored.InvoiceNumber = grn.InvoiceNumber
	stored.ChallanNumber = grn.ChallanNumber
	stored.Remarks = grn.Remarks
	stored.Status = grn.Status
	stored.VerifiedBy = grn.VerifiedBy
	stored.VerifiedAt = grn.VerifiedAt
	stored.VerificationNotes = grn.VerificationNotes
	t.repo.state.grns[grn.ID] = stored
	return nil
}

func (t *memoryTx) UpdateGRNLine(ctx context.Context, line GRNLine) error {
	g, ok := t.repo.state.grns[line.GRNID]
	if !ok {
		return ErrNotFound
	}
	for i := range g.Lines {
		if g.Lines[i].ID == line.ID {
			g.Lines[i].InvoicedQty = line.InvoicedQty
			g.Lines[i].ReceivedQty = line.ReceivedQty
			g.Lines[i].Weight = line.Weight
			g.Lines[i].Remarks = line.Remarks
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) GetExcessResolution(ctx context.Context, grnID int64) (ExcessResolution, error) {
	return t.repo.getResolution(grnID)
}

func (t *memoryTx) InsertExcessResolution(ctx context.Context, res ExcessResolution) (int64, error) {
	if _, ok := t.repo.state.resolutions[res.GRNID]; ok {
		return 0, errors.New("duplicate resolution")
	}
	res.ID = t.repo.id()
	res.VendorReturn = nil
	t.repo.state.resolutions[res.GRNID] = res
	return res.ID, nil
}

func (t *memoryTx) InsertVendorReturn(ctx context.Context, ret VendorReturn) (int64, error) {
	ret.ID = t.repo.id()
	t.repo.state.returns[ret.GRNID] = ret
	return ret.ID, nil
}

func (t *memoryTx) InsertMismatchRequest(ctx context.Context, req MismatchRequest) (int64, error) {
	req.ID = t.repo.id()
	t.repo.state.requests[req.GRNID] = append(t.repo.state.requests[req.GRNID], req)
	return req.ID, nil
}

func (t *memoryTx) InsertCommitRecord(ctx context.Context, rec InventoryCommitRecord) (int64, error) {
	rec.ID = t.repo.id()
	t.repo.state.commits[rec.GRNID] = rec
	return rec.ID, nil
}

func (t *memoryTx) MarkInventoryAdded(ctx context.Context, grnID int64, at time.Time) error {
	g := t.repo.state.grns[grnID]
	if g.InventoryAdded {
		return ErrAlreadyCommitted
	}
	g.InventoryAdded = true
	g.InventoryAddedAt = at
	t.repo.state.grns[grnID] = g
	return nil
}

func (t *memoryTx) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	po := t.repo.state.pos[poID]
	po.Status = status
	t.repo.state.pos[poID] = po
	return nil
}

func (t *memoryTx) PostInventory(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error) {
	t.repo.postCalls++
	if t.repo.failPost != nil && t.repo.postCalls > 1 {
		return inventory.StockCardEntry{}, t.repo.failPost
	}
	t.repo.state.postings = append(t.repo.state.postings, input)
	return inventory.StockCardEntry{TxCode: input.Code, QtyIn: input.Qty, BalanceQty: input.Qty}, nil
}

func (t *memoryTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	if _, ok := t.repo.state.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.repo.state.keys[key] = module
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (a *recordingApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	statuses []GRNStatusChangedEvent
	commits  []GRNCommittedEvent
	mismatch []MismatchRaisedEvent
	returns  []VendorReturnEvent
}

func (e *recordingEvents) PublishStatusChanged(ctx context.Context, evt GRNStatusChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, evt)
	return nil
}

func (e *recordingEvents) PublishCommitted(ctx context.Context, evt GRNCommittedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commits = append(e.commits, evt)
	return nil
}

func (e *recordingEvents) PublishMismatchRaised(ctx context.Context, evt MismatchRaisedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mismatch = append(e.mismatch, evt)
	return nil
}

func (e *recordingEvents) PublishVendorReturn(ctx context.Context, evt VendorReturnEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.returns = append(e.returns, evt)
	return nil
}

type stubLocker struct {
	mu   sync.Mutex
	busy map[string]bool
	keys []string
}

func (l *stubLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[key] {
		return nil, shared.ErrLockBusy
	}
	l.keys = append(l.keys, key)
	return func(context.Context) error { return nil }, nil
}

// tickingClock advances one second per call so generated numbers stay unique.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	repo      *memoryRepo
	svc       *Service
	audit     *recordingAudit
	approvals *recordingApprovals
	events    *recordingEvents
	locker    *stubLocker
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemoryRepo(),
		audit:     &recordingAudit{},
		approvals: &recordingApprovals{},
		events:    &recordingEvents{},
		locker:    &stubLocker{busy: map[string]bool{}},
	}
	clock := &tickingClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	f.svc = NewService(f.repo, Dependencies{
		Locker:    f.locker,
		Approvals: f.approvals,
		Audit:     f.audit,
		Events:    f.events,
		Metrics:   NewMetrics(nil),
		Now:       clock.Now,
	})
	return f
}

func poLine(name string, ordered, rate string) POLine {
	return POLine{
		Material:   Material{Name: name, Color: "navy", Spec: "180gsm", Unit: "m"},
		OrderedQty: decimal.RequireFromString(ordered),
		Rate:       decimal.RequireFromString(rate),
	}
}

func qty(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

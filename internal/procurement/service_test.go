package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-grn/internal/shared"
)

const actor = int64(7)

func (f *fixture) receive(t *testing.T, poID int64, lines ...GRNLineInput) GoodsReceipt {
	t.Helper()
	grn, err := f.svc.CreateGRN(context.Background(), CreateGRNInput{POID: poID, InvoiceNumber: "INV-1", ChallanNumber: "CH-1", ActorID: actor, Lines: lines})
	require.NoError(t, err)
	return grn
}

func TestPerfectMatchFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Cotton twill", "100", "4.50"))
	poLineID := f.repo.state.poLines[po.ID][0].ID

	grn := f.receive(t, po.ID, GRNLineInput{POLineID: poLineID, ReceivedQty: d("100")})
	require.Equal(t, GRNStatusReceived, grn.Status)
	require.True(t, grn.IsRoot())
	require.True(t, strings.HasPrefix(grn.Number, "GRN-"))
	require.True(t, grn.Summary().AllItemsPerfectMatch)
	require.True(t, grn.Lines[0].InvoicedQty.Equal(d("100")), "invoiced defaults to ordered")

	verified, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, GRNStatusVerified, verified.Status)

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, rec.POStatus)
	require.Empty(t, rec.Resolution)
	require.Len(t, rec.Lines, 1)
	require.True(t, strings.HasPrefix(rec.Lines[0].ItemCode, "ITM-"))
	require.Equal(t, "warehouse:A1", rec.Lines[0].Destination)
	require.True(t, rec.Lines[0].Qty.Equal(d("100")))

	stored := f.repo.grn(grn.ID)
	require.True(t, stored.InventoryAdded)
	require.False(t, stored.InventoryAddedAt.IsZero())
	require.Equal(t, GRNStatusVerified, stored.Status)
	require.Equal(t, POStatusCompleted, f.repo.po(po.ID).Status)

	postings := f.repo.postings()
	require.Len(t, postings, 1)
	require.True(t, postings[0].Qty.Equal(d("100")))
	require.True(t, postings[0].UnitCost.Equal(d("4.50")))
	require.Equal(t, shared.RefID("GRN", grn.ID).String(), postings[0].RefID)

	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.ErrorIs(t, err, ErrAlreadyCommitted)
	require.Len(t, f.repo.postings(), 1)

	require.Contains(t, f.audit.actions(), "GRN_COMMIT")
	require.Len(t, f.events.commits, 1)
	require.Contains(t, f.locker.keys, shared.GRNLockKey(grn.ID))
	require.Contains(t, f.locker.keys, shared.POLockKey(po.ID))
}

func TestShortageFlowWithMismatchAndFulfillment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(55, poLine("Denim", "100", "6"), poLine("Lining", "40", "2"))
	lines := f.repo.state.poLines[po.ID]

	grn := f.receive(t, po.ID,
		GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d("80")},
		GRNLineInput{POLineID: lines[1].ID, ReceivedQty: d("40")},
	)
	sum := grn.Summary()
	require.True(t, sum.HasAnyShortage)
	require.True(t, sum.TotalShortage.Equal(d("20")))

	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, ActorID: actor})
	require.ErrorIs(t, err, ErrValidation)

	req, err := f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{
		RequestedAction: MismatchAcceptShortage,
		Description:     "vendor short shipped denim",
		LineNotes:       map[int64]string{grn.Lines[0].ID: "roll 4 missing"},
		ActorID:         actor,
	})
	require.NoError(t, err)
	require.Equal(t, MismatchStatusOpen, req.Status)
	require.Len(t, req.Items, 1)
	require.True(t, req.Items[0].ShortageQty.Equal(d("20")))
	require.Equal(t, "roll 4 missing", req.Items[0].Notes)
	require.Equal(t, GRNStatusReceived, f.repo.grn(grn.ID).Status, "mismatch requests do not transition")

	approved, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "accepting short delivery", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, GRNStatusApproved, approved.Status)
	require.Len(t, f.approvals.logs, 1)
	require.Equal(t, shared.ApprovalApprove, f.approvals.logs[0].Action)

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, rec.POStatus)
	require.Equal(t, "project:55", rec.Lines[0].Destination)
	require.True(t, rec.Lines[0].Qty.Equal(d("80")))

	follow, err := f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{
		POID:    po.ID,
		ActorID: actor,
		Lines:   []GRNLineInput{{POLineID: lines[0].ID, ReceivedQty: d("20")}},
	})
	require.NoError(t, err)
	require.True(t, follow.IsShortageFulfillment)
	require.Equal(t, grn.ID, follow.OriginalGRNID)
	require.Len(t, follow.Lines, 1)
	require.Equal(t, lines[0].ID, follow.Lines[0].POLineID)
	require.True(t, follow.Lines[0].OrderedQty.Equal(d("20")))
	require.True(t, follow.Summary().AllItemsPerfectMatch)

	root := f.repo.grn(follow.OriginalGRNID)
	require.True(t, root.IsRoot())
	rootLines := map[int64]bool{}
	for _, l := range root.Lines {
		rootLines[l.POLineID] = true
	}
	for _, l := range follow.Lines {
		require.True(t, rootLines[l.POLineID])
	}

	_, err = f.svc.VerifyGRN(ctx, follow.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)
	rec, err = f.svc.CommitToInventory(ctx, follow.ID, CommitInput{ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, rec.POStatus)

	_, err = f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lines[0].ID, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrNoOutstandingShortage)
}

func TestFulfillmentGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"), poLine("Thread", "10", "1"))
	lines := f.repo.state.poLines[po.ID]
	grn := f.receive(t, po.ID,
		GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d("80")},
		GRNLineInput{POLineID: lines[1].ID, ReceivedQty: d("10")},
	)

	_, err := f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lines[0].ID, ReceivedQty: d("20")}}})
	require.ErrorIs(t, err, ErrInvalidTransition, "latest grn not committed")

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lines[0].ID, ReceivedQty: d("20")}}})
	require.ErrorIs(t, err, ErrInvalidTransition, "second plain grn on a po")

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, Override: true, Notes: "checked", ActorID: actor})
	require.NoError(t, err)
	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "B2", ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lines[1].ID, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrValidation, "line without shortage")

	_, err = f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{POID: po.ID, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidQuantities)
}

func TestFulfillmentWithoutPriorGRNCreatesRoot(t *testing.T) {
	f := newFixture()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID

	grn, err := f.svc.CreateShortageFulfillmentGRN(context.Background(), FulfillmentInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("50")}}})
	require.NoError(t, err)
	require.True(t, grn.IsRoot())
	require.False(t, grn.IsShortageFulfillment)
	require.True(t, grn.Lines[0].OrderedQty.Equal(d("100")))
}

func TestOverageAutoReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Poplin", "100", "3"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("120")})
	require.True(t, grn.Summary().TotalOverage.Equal(d("20")))

	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "over shipped", ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.ErrorIs(t, err, ErrOverageUnresolved)
	require.False(t, f.repo.grn(grn.ID).InventoryAdded)
	require.Empty(t, f.repo.idempotencyKeys(), "failed commit releases its idempotency key")

	res, err := f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessAutoReject, ActorID: actor})
	require.NoError(t, err)
	require.NotNil(t, res.VendorReturn)
	require.Len(t, res.VendorReturn.Lines, 1)
	require.True(t, res.VendorReturn.Lines[0].Qty.Equal(d("20")))
	require.Equal(t, VendorReturnPending, res.VendorReturn.Status)
	require.Len(t, f.events.returns, 1)

	_, err = f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessApproveExcess, ActorID: actor})
	require.ErrorIs(t, err, ErrAlreadyResolved)

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, ExcessAutoReject, rec.Resolution)
	require.Equal(t, POStatusCompleted, rec.POStatus, "returned excess does not count")
	require.True(t, rec.Lines[0].Qty.Equal(d("100")))
	require.True(t, f.repo.postings()[0].Qty.Equal(d("100")))
}

func TestOverageApproveExcess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Poplin", "100", "3"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("120")})

	res, err := f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessApproveExcess, Notes: "keep for next order", ActorID: actor})
	require.NoError(t, err)
	require.Nil(t, res.VendorReturn)
	require.Empty(t, f.events.returns)

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "excess approved", ActorID: actor})
	require.NoError(t, err)

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusExcessReceived, rec.POStatus)
	require.True(t, rec.Lines[0].Qty.Equal(d("120")))
	require.Equal(t, POStatusExcessReceived, f.repo.po(po.ID).Status)
}

func TestInvoiceMismatchDoesNotBlockCommit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Rib knit", "100", "5"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, InvoicedQty: qty("90"), ReceivedQty: d("90")})

	rec := grn.Lines[0].Reconcile()
	require.Equal(t, ClassInvoiceMismatch, rec.Classification)
	require.True(t, rec.Shortage.IsZero())
	require.True(t, rec.Overage.IsZero())

	_, err := f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessAutoReject, ActorID: actor})
	require.ErrorIs(t, err, ErrNoOverage)
	_, err = f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchAcceptShortage, ActorID: actor})
	require.ErrorIs(t, err, ErrNoShortage)

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "invoice short", ActorID: actor})
	require.NoError(t, err)
	commit, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "C", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, commit.POStatus)
}

func TestCreateGRNValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID

	_, err := f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("0")}}})
	require.ErrorIs(t, err, ErrInvalidQuantities)

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("-1")}}})
	require.ErrorIs(t, err, ErrInvalidQuantities)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "lines[2].received_quantity")

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: 999, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("1")}, {POLineID: lineID, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: 424242, ActorID: actor, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{POLineID: lineID, ReceivedQty: d("1")}}})
	require.ErrorIs(t, err, ErrValidation, "actor required")

	grns, err := f.svc.ListGRNsByPO(ctx, po.ID)
	require.NoError(t, err)
	require.Empty(t, grns)
}

func TestDraftUpdateAndSubmit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"), poLine("Buttons", "500", "0.1"))
	lines := f.repo.state.poLines[po.ID]

	grn, err := f.svc.CreateGRN(ctx, CreateGRNInput{POID: po.ID, Draft: true, ActorID: actor, Lines: []GRNLineInput{{POLineID: lines[0].ID, ReceivedQty: d("10")}}})
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, grn.Status)
	require.Len(t, grn.Lines, 2, "every po line is snapshotted")

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchWaitForRemaining, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidTransition)

	invoice := "INV-77"
	updated, err := f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{
		InvoiceNumber: &invoice,
		Lines: []GRNLineUpdate{
			{LineID: grn.Lines[0].ID, ReceivedQty: qty("100")},
			{LineID: grn.Lines[1].ID, ReceivedQty: qty("500"), Weight: qty("2.5")},
		},
		Submit:  true,
		ActorID: actor,
	})
	require.NoError(t, err)
	require.Equal(t, GRNStatusReceived, updated.Status)
	require.Equal(t, "INV-77", updated.InvoiceNumber)
	stored := f.repo.grn(grn.ID)
	require.True(t, stored.Summary().AllItemsPerfectMatch)
	require.True(t, stored.Lines[1].Weight.Equal(d("2.5")))
	require.Len(t, f.events.statuses, 1)
	require.Equal(t, GRNStatusDraft, f.events.statuses[0].From)

	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Submit: true, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Lines: []GRNLineUpdate{{LineID: 12345, ReceivedQty: qty("1")}}, ActorID: actor})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Lines: []GRNLineUpdate{
		{LineID: grn.Lines[0].ID, ReceivedQty: qty("0")},
		{LineID: grn.Lines[1].ID, ReceivedQty: qty("0")},
	}, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidQuantities)
	require.True(t, f.repo.grn(grn.ID).Lines[0].ReceivedQty.Equal(d("100")), "failed update leaves lines unchanged")

	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)
	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Lines: []GRNLineUpdate{{LineID: grn.Lines[0].ID, ReceivedQty: qty("99")}}, ActorID: actor})
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestUpdateBlockedAfterExcessResolution(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Poplin", "100", "3"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("110")})

	_, err := f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessAutoReject, ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Lines: []GRNLineUpdate{{LineID: grn.Lines[0].ID, ReceivedQty: qty("100")}}, ActorID: actor})
	require.ErrorIs(t, err, ErrNotEditable)

	remarks := "pallet damaged"
	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Remarks: &remarks, ActorID: actor})
	require.NoError(t, err)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Poplin", "100", "3"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("130")})

	rejected, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionReject, Notes: "wrong shade", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, GRNStatusRejected, rejected.Status)
	require.Equal(t, shared.ApprovalReject, f.approvals.logs[0].Action)

	_, err = f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessAutoReject, ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A", ActorID: actor})
	require.ErrorIs(t, err, ErrNotVerified)
	_, err = f.svc.UpdateGRN(ctx, grn.ID, UpdateGRNInput{Submit: true, ActorID: actor})
	require.ErrorIs(t, err, ErrNotEditable)

	var gerr *GRNError
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, grn.ID, gerr.GRNID)
	require.Equal(t, GRNStatusRejected, gerr.Status)
	require.Contains(t, err.Error(), "status=rejected")

	// a rejected receipt does not count as the latest one, so a new root may be created
	again := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("100")})
	require.True(t, again.IsRoot())
}

func TestCommitRequiresLocationWithoutSalesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("100")})
	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)

	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{ActorID: actor})
	require.ErrorIs(t, err, ErrValidation)
	require.False(t, f.repo.grn(grn.ID).InventoryAdded)
	require.Empty(t, f.repo.idempotencyKeys())

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, POStatusCompleted, rec.POStatus)
	require.True(t, f.repo.grn(grn.ID).InventoryAdded)
	require.Equal(t, map[string]string{commitKey(grn): idemModule}, f.repo.idempotencyKeys())
}

func TestCommitIsAtomic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"), poLine("Zip", "50", "1"))
	lines := f.repo.state.poLines[po.ID]
	grn := f.receive(t, po.ID,
		GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d("100")},
		GRNLineInput{POLineID: lines[1].ID, ReceivedQty: d("50")},
	)
	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)

	f.repo.failPost = errors.New("ledger unavailable")
	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.Error(t, err)

	stored := f.repo.grn(grn.ID)
	require.False(t, stored.InventoryAdded)
	require.Empty(t, f.repo.postings())
	_, err = f.repo.GetCommitRecord(ctx, grn.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, POStatusIssued, f.repo.po(po.ID).Status)
	require.Empty(t, f.repo.idempotencyKeys())

	f.repo.failPost = nil
	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Len(t, rec.Lines, 2)
	require.NotEqual(t, rec.Lines[0].ItemCode, rec.Lines[1].ItemCode)
}

func TestCommitSkipsLedgerForZeroLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"), poLine("Zip", "50", "1"))
	lines := f.repo.state.poLines[po.ID]
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d("100")})
	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "zips later", ActorID: actor})
	require.NoError(t, err)

	rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	require.Len(t, rec.Lines, 2)
	require.True(t, rec.Lines[1].Qty.IsZero())
	require.Len(t, f.repo.postings(), 1)
	require.Equal(t, POStatusPartiallyReceived, rec.POStatus)
}

func TestMismatchValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("60")})

	_, err := f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: "refund_everything", ActorID: actor})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchOther, ActorID: actor})
	require.ErrorIs(t, err, ErrValidation)

	first, err := f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchOther, ActionNotes: "split invoice", ActorID: actor})
	require.NoError(t, err)
	second, err := f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchRequestReplacement, ActorID: actor})
	require.NoError(t, err)
	require.NotEqual(t, first.Number, second.Number)
	require.True(t, strings.HasPrefix(first.Number, "MMR-"))
	require.Len(t, f.events.mismatch, 2)
}

func TestBusyLockFailsFast(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("100")})

	f.locker.busy[shared.GRNLockKey(grn.ID)] = true
	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, GRNStatusReceived, f.repo.grn(grn.ID).Status)
}

func TestGetGRNView(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Poplin", "100", "3"), poLine("Lining", "10", "1"))
	lines := f.repo.state.poLines[po.ID]
	grn := f.receive(t, po.ID,
		GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d("120")},
		GRNLineInput{POLineID: lines[1].ID, ReceivedQty: d("5")},
	)

	view, err := f.svc.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.False(t, view.CanCommit)
	require.Nil(t, view.Resolution)
	require.Equal(t, po.Number, view.PurchaseOrder.Number)
	require.Equal(t, ClassOverage, view.Lines[0].Reconciliation.Classification)
	require.Equal(t, ClassShortage, view.Lines[1].Reconciliation.Classification)

	pending, err := f.svc.PendingExcessResolutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: ExcessAutoReject, ActorID: actor})
	require.NoError(t, err)
	_, err = f.svc.CreateMismatchRequest(ctx, grn.ID, MismatchInput{RequestedAction: MismatchWaitForRemaining, ActorID: actor})
	require.NoError(t, err)
	_, err = f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "mixed", ActorID: actor})
	require.NoError(t, err)

	view, err = f.svc.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.True(t, view.CanCommit)
	require.NotNil(t, view.Resolution)
	require.NotNil(t, view.Resolution.VendorReturn)
	require.Len(t, view.MismatchRequests, 1)
	require.Nil(t, view.Commit)

	pending, err = f.svc.PendingExcessResolutions(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.NoError(t, err)
	view, err = f.svc.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Commit)
	require.False(t, view.CanCommit)

	_, err = f.svc.GetGRN(ctx, 98765)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFulfillmentChainNeverExceedsOrdered(t *testing.T) {
	cases := []struct {
		name      string
		invoiced  *decimal.Decimal
		received  string
		action    ExcessAction
		class     Classification
		committed string
		total     string
		poStatus  POStatus
	}{
		{"exact outstanding", nil, "20", "", ClassPerfectMatch, "20", "100", POStatusCompleted},
		{"still short", nil, "15", "", ClassShortage, "15", "95", POStatusPartiallyReceived},
		{"invoice above outstanding is returned", qty("50"), "50", ExcessAutoReject, ClassOverage, "20", "100", POStatusCompleted},
		{"invoice above outstanding is kept", qty("50"), "50", ExcessApproveExcess, ClassOverage, "50", "130", POStatusExcessReceived},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			po := f.repo.addPO(0, poLine("Denim", "100", "6"))
			lineID := f.repo.state.poLines[po.ID][0].ID

			root := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("80")})
			_, err := f.svc.VerifyGRN(ctx, root.ID, VerifyInput{Decision: DecisionVerify, Override: true, Notes: "short roll", ActorID: actor})
			require.NoError(t, err)
			_, err = f.svc.CommitToInventory(ctx, root.ID, CommitInput{Location: "A1", ActorID: actor})
			require.NoError(t, err)

			follow, err := f.svc.CreateShortageFulfillmentGRN(ctx, FulfillmentInput{
				POID:    po.ID,
				ActorID: actor,
				Lines:   []GRNLineInput{{POLineID: lineID, InvoicedQty: tc.invoiced, ReceivedQty: d(tc.received)}},
			})
			require.NoError(t, err)
			require.True(t, follow.Lines[0].OrderedQty.Equal(d("20")))
			require.Equal(t, tc.class, follow.Lines[0].Reconcile().Classification)
			stored := f.repo.grn(follow.ID)
			require.Equal(t, tc.class, stored.Lines[0].Reconcile().Classification)

			decision := VerifyInput{Decision: DecisionVerify, ActorID: actor}
			if tc.class != ClassPerfectMatch {
				decision = VerifyInput{Decision: DecisionApprove, Notes: "follow-up delivery", ActorID: actor}
			}
			_, err = f.svc.VerifyGRN(ctx, follow.ID, decision)
			require.NoError(t, err)

			if tc.action != "" {
				_, err = f.svc.CommitToInventory(ctx, follow.ID, CommitInput{Location: "A1", ActorID: actor})
				require.ErrorIs(t, err, ErrOverageUnresolved)
				_, err = f.svc.ResolveExcess(ctx, follow.ID, ResolveExcessInput{Action: tc.action, Notes: "follow-up excess", ActorID: actor})
				require.NoError(t, err)
			}

			rec, err := f.svc.CommitToInventory(ctx, follow.ID, CommitInput{Location: "A1", ActorID: actor})
			require.NoError(t, err)
			require.True(t, rec.Lines[0].Qty.Equal(d(tc.committed)), "committed %s", rec.Lines[0].Qty)
			require.Equal(t, tc.poStatus, rec.POStatus)

			total := decimal.Zero
			for _, p := range f.repo.postings() {
				total = total.Add(p.Qty)
			}
			require.True(t, total.Equal(d(tc.total)), "chain total %s", total)
		})
	}
}

func TestPOStatusAfterCommit(t *testing.T) {
	cases := []struct {
		name     string
		received [2]string
		action   ExcessAction
		admitted [2]string
		poStatus POStatus
	}{
		{"auto_reject with a short line", [2]string{"120", "30"}, ExcessAutoReject, [2]string{"100", "30"}, POStatusPartiallyReceived},
		{"auto_reject with every line covered", [2]string{"120", "50"}, ExcessAutoReject, [2]string{"100", "50"}, POStatusCompleted},
		{"approve_excess with a short line", [2]string{"120", "30"}, ExcessApproveExcess, [2]string{"120", "30"}, POStatusExcessReceived},
		{"short without excess", [2]string{"100", "30"}, "", [2]string{"100", "30"}, POStatusPartiallyReceived},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			po := f.repo.addPO(0, poLine("Poplin", "100", "3"), poLine("Lining", "50", "2"))
			lines := f.repo.state.poLines[po.ID]
			grn := f.receive(t, po.ID,
				GRNLineInput{POLineID: lines[0].ID, ReceivedQty: d(tc.received[0])},
				GRNLineInput{POLineID: lines[1].ID, ReceivedQty: d(tc.received[1])},
			)
			if tc.action != "" {
				_, err := f.svc.ResolveExcess(ctx, grn.ID, ResolveExcessInput{Action: tc.action, Notes: "excess", ActorID: actor})
				require.NoError(t, err)
			}
			_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionApprove, Notes: "mixed delivery", ActorID: actor})
			require.NoError(t, err)

			rec, err := f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
			require.NoError(t, err)
			require.Equal(t, tc.poStatus, rec.POStatus)
			require.Equal(t, tc.poStatus, f.repo.po(po.ID).Status)
			for i, want := range tc.admitted {
				require.True(t, rec.Lines[i].Qty.Equal(d(want)), "line %d admitted %s", i, rec.Lines[i].Qty)
			}
		})
	}
}

func TestCommitKeyClaimedElsewhere(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("100")})
	_, err := f.svc.VerifyGRN(ctx, grn.ID, VerifyInput{Decision: DecisionVerify, ActorID: actor})
	require.NoError(t, err)

	f.repo.state.keys[commitKey(grn)] = idemModule
	_, err = f.svc.CommitToInventory(ctx, grn.ID, CommitInput{Location: "A1", ActorID: actor})
	require.ErrorIs(t, err, ErrAlreadyCommitted)
	require.Empty(t, f.repo.postings())
	require.False(t, f.repo.grn(grn.ID).InventoryAdded)
}

func TestQuantityPrecision(t *testing.T) {
	cases := []struct {
		name  string
		line  func(lineID int64) GRNLineInput
		field string
	}{
		{"received beyond four places", func(id int64) GRNLineInput {
			return GRNLineInput{POLineID: id, ReceivedQty: d("100.00001")}
		}, "received_quantity"},
		{"invoiced beyond four places", func(id int64) GRNLineInput {
			return GRNLineInput{POLineID: id, InvoicedQty: qty("99.99999"), ReceivedQty: d("100")}
		}, "invoiced_quantity"},
		{"weight beyond four places", func(id int64) GRNLineInput {
			return GRNLineInput{POLineID: id, ReceivedQty: d("100"), Weight: d("2.12345")}
		}, "weight"},
		{"received above column range", func(id int64) GRNLineInput {
			return GRNLineInput{POLineID: id, ReceivedQty: d("100000000000000")}
		}, "received_quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			po := f.repo.addPO(0, poLine("Denim", "100", "6"))
			lineID := f.repo.state.poLines[po.ID][0].ID

			_, err := f.svc.CreateGRN(context.Background(), CreateGRNInput{POID: po.ID, ActorID: actor, Lines: []GRNLineInput{tc.line(lineID)}})
			require.ErrorIs(t, err, ErrInvalidQuantities)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, fmt.Sprintf("lines[%d].%s", lineID, tc.field))
		})
	}

	f := newFixture()
	po := f.repo.addPO(0, poLine("Denim", "100", "6"))
	lineID := f.repo.state.poLines[po.ID][0].ID
	grn := f.receive(t, po.ID, GRNLineInput{POLineID: lineID, ReceivedQty: d("99.1250"), Weight: d("12.0001")})
	require.True(t, grn.Lines[0].ReceivedQty.Equal(d("99.125")))
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Err: ErrValidation, Fields: map[string]string{
		"lines[3].weight":  "must not be negative",
		"actor_id":         "required",
		"invoice_number":   "too long",
		"lines[1].remarks": "too long",
	}}
	want := "procurement: validation failed: actor_id: required; invoice_number: too long; lines[1].remarks: too long; lines[3].weight: must not be negative"
	for i := 0; i < 20; i++ {
		require.Equal(t, want, err.Error())
	}
}

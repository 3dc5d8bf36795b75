package procurement

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// LineView pairs a stored line with its live reconciliation.
type LineView struct {
	GRNLine
	Reconciliation LineReconciliation
}

// GRNView is the read model of a GRN with everything derived from it.
type GRNView struct {
	GRN              GoodsReceipt
	PurchaseOrder    PurchaseOrder
	Lines            []LineView
	Summary          Summary
	Resolution       *ExcessResolution
	MismatchRequests []MismatchRequest
	Commit           *InventoryCommitRecord
	CanCommit        bool
}

// GetGRN loads a GRN with its PO, resolution, requests and commit record.
// Reconciliation is recomputed from stored lines on every read.
func (s *Service) GetGRN(ctx context.Context, id int64) (GRNView, error) {
	grn, err := s.repo.GetGRN(ctx, id)
	if err != nil {
		return GRNView{}, err
	}
	view := GRNView{GRN: grn, Summary: grn.Summary()}
	for _, line := range grn.Lines {
		view.Lines = append(view.Lines, LineView{GRNLine: line, Reconciliation: line.Reconcile()})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		po, _, err := s.repo.GetPO(gctx, grn.POID)
		view.PurchaseOrder = po
		return err
	})
	g.Go(func() error {
		res, err := s.repo.GetExcessResolution(gctx, grn.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		view.Resolution = &res
		return nil
	})
	g.Go(func() error {
		reqs, err := s.repo.ListMismatchRequests(gctx, grn.ID)
		view.MismatchRequests = reqs
		return err
	})
	if grn.InventoryAdded {
		g.Go(func() error {
			rec, err := s.repo.GetCommitRecord(gctx, grn.ID)
			if err != nil {
				return err
			}
			view.Commit = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GRNView{}, err
	}
	view.CanCommit = !grn.InventoryAdded && grn.Status.ReadyForCommit() &&
		(!view.Summary.HasAnyOverage || view.Resolution != nil)
	return view, nil
}

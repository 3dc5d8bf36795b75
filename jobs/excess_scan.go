package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-grn/internal/jobs"
	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
)

const defaultExcessScanLimit = 200

// PendingExcessLister is implemented by *procurement.Service.
type PendingExcessLister interface {
	PendingExcessResolutions(ctx context.Context, limit int) ([]procurement.GoodsReceipt, error)
}

// ExcessScanJob reports GRNs that cannot be committed until their overage is resolved.
type ExcessScanJob struct {
	lister  PendingExcessLister
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExcessScanJob initialises the scan handler.
func NewExcessScanJob(lister PendingExcessLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExcessScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExcessScanJob{
		lister:  lister,
		logger:  logger.With(slog.String("job", TaskGRNExcessScan)),
		metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *ExcessScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.lister == nil {
		return errors.New("excess scan: handler not configured")
	}
	var payload ExcessScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultExcessScanLimit
	}

	start := j.clock()
	tracker := j.metrics.Track(TaskGRNExcessScan)
	defer func() { err = tracker.End(err) }()

	pending, err := j.lister.PendingExcessResolutions(ctx, payload.Limit)
	if err != nil {
		j.logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	for _, grn := range pending {
		summary := grn.Summary()
		j.logger.Warn("grn awaiting excess resolution",
			slog.Int64("grn_id", grn.ID),
			slog.String("number", grn.Number),
			slog.Int64("po_id", grn.POID),
			slog.String("status", string(grn.Status)),
			slog.String("total_overage", summary.TotalOverage.String()),
			slog.Duration("age", start.Sub(grn.CreatedAt)))
	}
	j.metrics.SetPendingExcess(len(pending))
	j.logger.Info("completed excess scan", slog.Int("pending", len(pending)), slog.Int("limit", payload.Limit))
	return nil
}

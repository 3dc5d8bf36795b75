package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/odyssey-grn/internal/jobs"
	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
)

// VendorReturnSink is the downstream vendor returns desk.
type VendorReturnSink interface {
	SubmitReturn(ctx context.Context, evt procurement.VendorReturnEvent) error
}

// LogReturnSink records the hand-off in the log when no returns system is wired.
type LogReturnSink struct {
	Logger *slog.Logger
}

func (s LogReturnSink) SubmitReturn(ctx context.Context, evt procurement.VendorReturnEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	total := decimal.Zero
	for _, l := range evt.Lines {
		total = total.Add(l.Qty)
	}
	logger.InfoContext(ctx, "vendor return submitted",
		slog.String("number", evt.Number),
		slog.Int64("grn_id", evt.GRNID),
		slog.Int64("po_id", evt.POID),
		slog.Int("lines", len(evt.Lines)),
		slog.String("total_qty", total.String()))
	return nil
}

// VendorReturnJob forwards grn:vendor-return tasks to a sink.
type VendorReturnJob struct {
	sink    VendorReturnSink
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewVendorReturnJob builds the handler.
func NewVendorReturnJob(sink VendorReturnSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *VendorReturnJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &VendorReturnJob{sink: sink, logger: logger.With(slog.String("job", TaskGRNVendorReturn)), metrics: metrics}
}

// Handle processes grn:vendor-return tasks.
func (j *VendorReturnJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.sink == nil {
		return errors.New("vendor return: handler not configured")
	}
	var evt procurement.VendorReturnEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	if len(evt.Lines) == 0 {
		j.logger.Warn("vendor return without lines", slog.String("number", evt.Number))
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(TaskGRNVendorReturn)
	defer func() { err = tracker.End(err) }()
	if err := j.sink.SubmitReturn(ctx, evt); err != nil {
		j.logger.Error("submit vendor return", slog.String("number", evt.Number), slog.Any("error", err))
		return err
	}
	return nil
}

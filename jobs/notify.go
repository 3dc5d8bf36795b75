package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/odyssey-erp/odyssey-grn/internal/jobs"
)

// Notifier delivers a rendered GRN notification.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, subject, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "grn notification", slog.String("subject", subject), slog.String("body", body))
	return nil
}

// NotifyJob renders grn:notify payloads for a locale and hands them to a Notifier.
type NotifyJob struct {
	notifier Notifier
	printer  *message.Printer
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewNotifyJob builds the handler. An unparsable locale falls back to Indonesian.
func NewNotifyJob(notifier Notifier, locale string, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyJob {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Indonesian
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyJob{
		notifier: notifier,
		printer:  message.NewPrinter(tag),
		logger:   logger.With(slog.String("job", TaskGRNNotify)),
		metrics:  metrics,
	}
}

// Handle processes grn:notify tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.notifier == nil {
		return errors.New("grn notify: handler not configured")
	}
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := payload.validate(); err != nil {
		j.logger.Warn("dropping notification", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(TaskGRNNotify)
	defer func() { err = tracker.End(err) }()

	subject, body := j.render(payload)
	if err := j.notifier.Notify(ctx, subject, body); err != nil {
		j.logger.Error("deliver notification", slog.Int64("grn_id", payload.GRNID), slog.Any("error", err))
		return err
	}
	j.metrics.AddNotification(string(payload.Kind))
	return nil
}

func (j *NotifyJob) render(p NotifyPayload) (string, string) {
	switch p.Kind {
	case NotifyCommitted:
		qty, _ := p.TotalQty.Float64()
		body := j.printer.Sprintf("%.2f units across %d lines admitted to %s; purchase order is now %s.",
			qty, p.Items, p.Destination, p.POStatus)
		if p.Action != "" {
			body += j.printer.Sprintf(" Excess handled by %s.", p.Action)
		}
		return j.printer.Sprintf("GRN %s committed to inventory", p.Number), body
	case NotifyMismatchRaised:
		return j.printer.Sprintf("Mismatch request %s raised", p.Number),
			j.printer.Sprintf("%d short lines on GRN %d, requested action %s.", p.Items, p.GRNID, p.Action)
	default:
		body := j.printer.Sprintf("Status changed from %s to %s by user %d.", p.From, p.To, p.ActorID)
		if p.Notes != "" {
			body += " " + p.Notes
		}
		return j.printer.Sprintf("GRN %s is %s", p.Number, p.To), body
	}
}

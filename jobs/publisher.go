package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-grn/internal/procurement"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher turns procurement events into asynq tasks.
type Publisher struct {
	client Enqueuer
	queue  string
}

var _ procurement.EventPublisher = (*Publisher)(nil)

// NewPublisher wires a publisher onto queue.
func NewPublisher(client Enqueuer, queue string) *Publisher {
	if queue == "" {
		queue = QueueDefault
	}
	return &Publisher{client: client, queue: queue}
}

func (p *Publisher) PublishStatusChanged(ctx context.Context, evt procurement.GRNStatusChangedEvent) error {
	return p.notify(ctx, NotifyPayload{
		Kind:       NotifyStatusChanged,
		GRNID:      evt.GRNID,
		Number:     evt.Number,
		POID:       evt.POID,
		From:       evt.From,
		To:         evt.To,
		ActorID:    evt.ActorID,
		Notes:      evt.Notes,
		OccurredAt: evt.ChangedAt,
	})
}

func (p *Publisher) PublishCommitted(ctx context.Context, evt procurement.GRNCommittedEvent) error {
	return p.notify(ctx, NotifyPayload{
		Kind:        NotifyCommitted,
		GRNID:       evt.GRNID,
		Number:      evt.Number,
		POID:        evt.POID,
		POStatus:    evt.POStatus,
		Destination: evt.Destination,
		TotalQty:    evt.TotalQty,
		Action:      string(evt.Resolution),
		Items:       evt.Lines,
		OccurredAt:  evt.CommittedAt,
	})
}

func (p *Publisher) PublishMismatchRaised(ctx context.Context, evt procurement.MismatchRaisedEvent) error {
	return p.notify(ctx, NotifyPayload{
		Kind:   NotifyMismatchRaised,
		GRNID:  evt.GRNID,
		Number: evt.Number,
		Action: string(evt.RequestedAction),
		Items:  evt.Items,
	})
}

// PublishVendorReturn enqueues the hand-off with a task id derived from the
// return number so a duplicate publish is rejected by asynq.
func (p *Publisher) PublishVendorReturn(ctx context.Context, evt procurement.VendorReturnEvent) error {
	task, err := NewVendorReturnTask(evt)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue), asynq.TaskID("vendor-return:"+evt.Number), asynq.MaxRetry(10)); err != nil {
		return fmt.Errorf("jobs: enqueue vendor return %s: %w", evt.Number, err)
	}
	return nil
}

func (p *Publisher) notify(ctx context.Context, payload NotifyPayload) error {
	task, err := NewNotifyTask(payload)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("jobs: enqueue %s notification for grn %d: %w", payload.Kind, payload.GRNID, err)
	}
	return nil
}

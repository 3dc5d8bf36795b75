package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-grn/jobs"
)

// Inspector is the subset of *asynq.Inspector used by the CLI.
type Inspector interface {
	jobs.QueueInspector
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for the GRN job queue.
type JobsCLI struct {
	client    jobs.Enqueuer
	inspector Inspector
	queue     string
}

// NewJobsCLI builds the CLI on top of an asynq client and inspector.
func NewJobsCLI(client jobs.Enqueuer, inspector Inspector, queue string) *JobsCLI {
	if queue == "" {
		queue = jobs.QueueDefault
	}
	return &JobsCLI{client: client, inspector: inspector, queue: queue}
}

// Trigger enqueues a supported job by name. Only the excess scan can be
// started by hand; notifications and vendor returns originate from GRN events.
func (c *JobsCLI) Trigger(ctx context.Context, name string, limit int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if name != jobs.TaskGRNExcessScan {
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	task, err := jobs.NewExcessScanTask(limit)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the metrics of the configured queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(c.queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: c.queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(c.queue, asynq.PageSize(size), asynq.Page(1))
}

// Run executes `jobs <trigger|stats|scheduled>` and writes a short report to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: jobs <trigger|stats|scheduled> [flags]")
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(out)
		limit := fs.Int("limit", 0, "maximum GRNs to scan")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		name := jobs.TaskGRNExcessScan
		if fs.NArg() > 0 {
			name = fs.Arg(0)
		}
		info, err := c.Trigger(ctx, name, *limit)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	case "stats":
		stats, err := c.InspectQueue()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	case "scheduled":
		size := 10
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("jobs cli: invalid page size %q", args[1])
			}
			size = n
		}
		tasks, err := c.ListScheduled(size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if _, err := fmt.Fprintf(out, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00")); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("jobs cli: unknown command %s", args[0])
	}
}

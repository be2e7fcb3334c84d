package authcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/deusexmachina/authcore/internal/queue"
)

// notifyJob is one best-effort email.
type notifyJob struct {
	kind   string
	userID string
	send   func(ctx context.Context) error
}

// notifyDispatcher runs notification sends on a fixed pool of workers so
// request paths never wait on the mail pipeline. Each send gets its own
// timeout; failures are logged and counted.
type notifyDispatcher struct {
	q       *queue.Queue[notifyJob]
	timeout time.Duration
	logger  zerolog.Logger
	metrics *Metrics
	failed  atomic.Uint64
}

func newNotifyDispatcher(cfg NotifyConfig, logger zerolog.Logger, metrics *Metrics) *notifyDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &notifyDispatcher{
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
		metrics: metrics,
	}
	d.q = queue.New(queue.Options[notifyJob]{
		Workers:    cfg.Workers,
		Size:       cfg.QueueSize,
		DropIfFull: cfg.DropIfFull,
		OnDrop:     d.onDrop,
	}, d.execute)
	return d
}

func (d *notifyDispatcher) execute(job notifyJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := job.send(ctx); err != nil {
		d.failed.Add(1)
		d.metrics.Inc(MetricNotificationFailed)
		d.logger.Warn().Err(err).Str("kind", job.kind).Str("user_id", job.userID).Msg("notification failed")
		return
	}
	d.metrics.Inc(MetricNotificationSent)
}

func (d *notifyDispatcher) onDrop(job notifyJob) {
	d.metrics.Inc(MetricNotificationDropped)
	d.logger.Warn().Str("kind", job.kind).Str("user_id", job.userID).Msg("notification queue full, dropped")
}

// Submit queues job. It never blocks past ctx; with DropIfFull it never
// blocks at all.
func (d *notifyDispatcher) Submit(ctx context.Context, job notifyJob) {
	if d == nil {
		return
	}
	d.q.Push(ctx, job)
}

// Close waits for queued sends to finish.
func (d *notifyDispatcher) Close() {
	if d != nil {
		d.q.Close()
	}
}

func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.Dropped()
}

func (d *notifyDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

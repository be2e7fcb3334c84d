package authcore

import (
	"context"

	"github.com/deusexmachina/authcore/internal/queue"
)

// auditDispatcher moves sink calls off the request path. A single consumer
// keeps events in emission order.
type auditDispatcher struct {
	q *queue.Queue[AuditEvent]
}

// newAuditDispatcher returns nil when auditing is off; the nil dispatcher
// accepts and discards everything.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	q := queue.New(queue.Options[AuditEvent]{
		Workers:    1,
		Size:       cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, func(event AuditEvent) {
		sink.Emit(context.Background(), event)
	})
	return &auditDispatcher{q: q}
}

// Emit queues event. With DropIfFull a full buffer drops the event and
// counts it; otherwise Emit waits for room or for ctx.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	d.q.Push(ctx, event)
}

// Close flushes queued events to the sink.
func (d *auditDispatcher) Close() {
	if d != nil {
		d.q.Close()
	}
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.q.Dropped()
}

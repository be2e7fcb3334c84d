package authcore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNotifyDispatcherRunsJobs(t *testing.T) {
	metrics := NewMetrics(MetricsConfig{Enabled: true})
	d := newNotifyDispatcher(NotifyConfig{Workers: 3, QueueSize: 32, Timeout: time.Second}, zerolog.Nop(), metrics)

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		d.Submit(context.Background(), notifyJob{kind: "test", send: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	d.Submit(context.Background(), notifyJob{kind: "test", send: func(context.Context) error {
		return errors.New("smtp down")
	}})
	d.Close()

	if ran.Load() != 20 {
		t.Fatalf("ran %d jobs, want 20", ran.Load())
	}
	if d.Failed() != 1 || metrics.Value(MetricNotificationFailed) != 1 {
		t.Fatalf("failed = %d", d.Failed())
	}
	if metrics.Value(MetricNotificationSent) != 20 {
		t.Fatalf("sent = %d", metrics.Value(MetricNotificationSent))
	}
}

func TestNotifyDispatcherAppliesTimeout(t *testing.T) {
	d := newNotifyDispatcher(NotifyConfig{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond}, zerolog.Nop(), nil)

	d.Submit(context.Background(), notifyJob{kind: "slow", send: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	d.Close()

	if d.Failed() != 1 {
		t.Fatal("a job outliving its timeout must count as failed")
	}
}

func TestNotifyDispatcherDropsWhenFull(t *testing.T) {
	metrics := NewMetrics(MetricsConfig{Enabled: true})
	d := newNotifyDispatcher(NotifyConfig{Workers: 1, QueueSize: 1, DropIfFull: true, Timeout: time.Second}, zerolog.Nop(), metrics)

	gate := make(chan struct{})
	blocked := func(context.Context) error {
		<-gate
		return nil
	}
	for i := 0; i < 10; i++ {
		d.Submit(context.Background(), notifyJob{kind: "blocked", send: blocked})
	}
	if d.Dropped() == 0 || metrics.Value(MetricNotificationDropped) != d.Dropped() {
		t.Fatalf("dropped = %d, metric = %d", d.Dropped(), metrics.Value(MetricNotificationDropped))
	}

	close(gate)
	d.Close()

	d.Submit(context.Background(), notifyJob{kind: "late", send: func(context.Context) error {
		t.Error("job submitted after close must not run")
		return nil
	}})
}

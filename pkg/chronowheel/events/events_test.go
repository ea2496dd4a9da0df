package events

import (
	"context"
	"testing"
	"time"
)

func TestDisabledBusIsNoOp(t *testing.T) {
	b := NewBus(false)
	if b.Enabled() {
		t.Fatal("expected disabled bus")
	}

	called := false
	unsub, err := b.Subscribe(InstanceStarted, func(context.Context, PublicEvent) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	b.Emit(context.Background(), InstanceStarted, 1, 1, time.Now())
	if called {
		t.Fatal("disabled bus must not invoke subscribers")
	}
}

func TestEnabledBusDeliversEachSubscription(t *testing.T) {
	b := NewBus(true)
	defer b.Close()

	started := make(chan PublicEvent, 1)
	completed := make(chan PublicEvent, 1)

	if _, err := b.Subscribe(InstanceStarted, func(_ context.Context, ev PublicEvent) error {
		started <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe started: %v", err)
	}
	if _, err := b.Subscribe(InstanceCompleted, func(_ context.Context, ev PublicEvent) error {
		completed <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe completed: %v", err)
	}

	b.Emit(context.Background(), InstanceStarted, 1, 1, time.Now())
	b.Emit(context.Background(), InstanceCompleted, 1, 1, time.Now())

	select {
	case ev := <-started:
		if ev.Kind != InstanceStarted || ev.TaskID != 1 {
			t.Fatalf("unexpected started event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for InstanceStarted")
	}

	select {
	case ev := <-completed:
		if ev.Kind != InstanceCompleted || ev.TaskID != 1 {
			t.Fatalf("unexpected completed event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for InstanceCompleted")
	}
}

func TestReporterReceivesEveryKind(t *testing.T) {
	b := NewBus(true)
	defer b.Close()

	r := NewReporter(b)
	defer r.Close()

	b.Emit(context.Background(), InstanceStarted, 7, 1, time.Now())
	b.Emit(context.Background(), TaskRemoved, 7, 0, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := r.NextWithWait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Kind != InstanceStarted || first.TaskID != 7 || first.InstanceID != 1 {
		t.Fatalf("unexpected first event: %+v", first)
	}

	second, err := r.NextWithWait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Kind != TaskRemoved || second.TaskID != 7 {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestReporterNextWithWaitRespectsContext(t *testing.T) {
	b := NewBus(true)
	defer b.Close()

	r := NewReporter(b)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.NextWithWait(ctx); err == nil {
		t.Fatal("expected error from already-cancelled context")
	}
}

func TestReporterCloseIsIdempotent(t *testing.T) {
	b := NewBus(true)
	defer b.Close()

	r := NewReporter(b)
	r.Close()
	r.Close()
}

package registry

import (
	"context"
	"testing"
	"time"
)

func awaitEvent(t *testing.T, events <-chan Event, want Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("watcher channel closed before the expected event")
			}
			if ev == want {
				return
			}
			// Unrelated events (e.g., from a previous case) are skipped.
		case <-deadline:
			t.Fatalf("timed out waiting for %+v", want)
		}
	}
}

func TestWatchReportsInstallAndRemove(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := r.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if err := r.Install(ctx, testSpec("uvk-watched")); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, events, Event{Type: EventInstalled, Kernel: "uvk-watched"})

	if err := r.Uninstall(ctx, "uvk-watched"); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, events, Event{Type: EventRemoved, Kernel: "uvk-watched"})
}

func TestWatchStopsOnCancel(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := r.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			// A buffered event may arrive first; the channel must still close.
			for range events {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
}

package connwatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedProbe flips between healthy and failing under test control.
type scriptedProbe struct {
	mu      sync.Mutex
	err     error
	calls   atomic.Int32
	blockFn func(ctx context.Context) // optional per-call hook
}

func (p *scriptedProbe) probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.blockFn != nil {
		p.blockFn(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *scriptedProbe) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherBecomesReadyAndFiresOnReady(t *testing.T) {
	probe := &scriptedProbe{}
	var readies atomic.Int32

	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: 10 * time.Millisecond,
		OnReady:       func() { readies.Add(1) },
	})
	defer w.Stop()

	waitFor(t, "ready", w.IsReady)
	if got := readies.Load(); got != 1 {
		t.Fatalf("OnReady fired %d times, want 1", got)
	}
	if w.LastError() != nil {
		t.Fatalf("LastError = %v, want nil", w.LastError())
	}
}

func TestWatcherDownAndRecoveryTransitions(t *testing.T) {
	probe := &scriptedProbe{}
	var readies, downs atomic.Int32

	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: 10 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		OnReady:       func() { readies.Add(1) },
		OnDown:        func(error) { downs.Add(1) },
	})
	defer w.Stop()

	waitFor(t, "initial ready", w.IsReady)

	probe.set(errors.New("connection refused"))
	waitFor(t, "down transition", func() bool { return !w.IsReady() })
	if downs.Load() != 1 {
		t.Fatalf("OnDown fired %d times, want 1", downs.Load())
	}

	probe.set(nil)
	waitFor(t, "recovery", w.IsReady)
	if readies.Load() != 2 {
		t.Fatalf("OnReady fired %d times, want 2 (startup + recovery)", readies.Load())
	}
}

func TestWatcherRetriesWhileDown(t *testing.T) {
	probe := &scriptedProbe{}
	probe.set(errors.New("unreachable"))

	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: 5 * time.Millisecond,
	})
	defer w.Stop()

	waitFor(t, "repeated probes", func() bool { return probe.calls.Load() >= 3 })
	if w.IsReady() {
		t.Fatal("watcher became ready with a failing probe")
	}

	status := w.Status()
	if status.Ready || status.LastError == "" || status.Name != "svc" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestWatcherProbeTimeoutBoundsSlowProbe(t *testing.T) {
	probe := &scriptedProbe{
		blockFn: func(ctx context.Context) { <-ctx.Done() },
	}
	probe.set(errors.New("slow"))

	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: 10 * time.Millisecond,
		ProbeTimeout:  5 * time.Millisecond,
	})
	defer w.Stop()

	// A probe that blocks until its context expires must not wedge the
	// watcher: further probe rounds keep happening.
	waitFor(t, "probes despite blocking", func() bool { return probe.calls.Load() >= 2 })
}

func TestWatcherRecheckCutsSleepShort(t *testing.T) {
	probe := &scriptedProbe{}
	var downs atomic.Int32

	// An hour-long cadence: without Recheck, nothing past the first
	// probe would happen inside this test.
	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: time.Hour,
		PollInterval:  time.Hour,
		OnDown:        func(error) { downs.Add(1) },
	})
	defer w.Stop()

	waitFor(t, "initial ready", w.IsReady)

	probe.set(errors.New("socket lost"))
	w.Recheck()
	waitFor(t, "down transition via recheck", func() bool { return !w.IsReady() })
	if downs.Load() != 1 {
		t.Fatalf("OnDown fired %d times, want 1", downs.Load())
	}

	probe.set(nil)
	w.Recheck()
	waitFor(t, "recovery via recheck", w.IsReady)
}

func TestWatcherStopTerminates(t *testing.T) {
	probe := &scriptedProbe{}
	w := Start(context.Background(), Config{
		Name:          "svc",
		Probe:         probe.probe,
		RetryInterval: 5 * time.Millisecond,
	})
	waitFor(t, "ready", w.IsReady)

	w.Stop() // blocks until the goroutine exits

	calls := probe.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if probe.calls.Load() != calls {
		t.Fatal("probe still running after Stop")
	}
}

func TestStartPanicsOnMissingProbe(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want panic for nil Probe")
		}
	}()
	Start(context.Background(), Config{Name: "svc"})
}

// Package connwatch supervises the gateway's connection to an external
// service. A Watcher probes the service on a fixed cadence, flips
// between ready and down, and fires transition callbacks — the Home
// Assistant synchronizer uses those to reconnect its WebSocket and to
// drive the connected/disconnected health flag.
//
// This sits above httpkit's transport-level retry, which covers
// brief dial hiccups within one request (a few retries, one to two
// seconds apart). connwatch covers outages
// that outlast a request: service restarts and network partitions.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config describes one supervised service.
type Config struct {
	// Name identifies the service in log lines.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// RetryInterval is the wait between probes while the service is
	// down, including before the first successful connection. Defaults
	// to 5 seconds.
	RetryInterval time.Duration

	// PollInterval is the wait between probes while the service is up.
	// Defaults to RetryInterval.
	PollInterval time.Duration

	// ProbeTimeout bounds each individual probe call. Defaults to the
	// retry interval.
	ProbeTimeout time.Duration

	// OnReady fires on every down-to-ready transition, including the
	// first successful probe. It runs on the watcher goroutine, so a
	// slow OnReady delays the next poll — keep it bounded. Optional.
	OnReady func()

	// OnDown fires on every ready-to-down transition with the probe
	// error. Same goroutine caveat as OnReady. Optional.
	OnDown func(err error)

	Logger *slog.Logger
}

// Status is a point-in-time health snapshot, shaped for health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher is a running supervisor for one service.
type Watcher struct {
	cfg    Config
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	// kick cuts the current sleep short so external signals (a dropped
	// WebSocket, say) get a probe round now instead of at the next tick.
	kick chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Start launches a watcher goroutine that probes cfg.Probe until ctx is
// cancelled or Stop is called. Panics if Name is empty or Probe is nil.
func Start(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.RetryInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = cfg.RetryInterval
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
	go w.run(watchCtx)
	return w
}

// IsReady reports whether the service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.cfg.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Recheck asks for a probe round now, without waiting out the current
// interval. Non-blocking; concurrent calls coalesce into one pending
// round.
func (w *Watcher) Recheck() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// run probes on a fixed cadence, firing transition callbacks. The first
// probe happens immediately so a healthy service is ready without
// waiting out an interval.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		wasReady := w.ready.Load()
		switch {
		case err == nil && !wasReady:
			w.ready.Store(true)
			w.cfg.Logger.Info("service reachable", "service", w.cfg.Name)
			if w.cfg.OnReady != nil {
				w.cfg.OnReady()
			}
		case err != nil && wasReady:
			w.ready.Store(false)
			w.cfg.Logger.Warn("service lost", "service", w.cfg.Name, "error", err)
			if w.cfg.OnDown != nil {
				w.cfg.OnDown(err)
			}
		case err != nil:
			w.cfg.Logger.Debug("service still unreachable", "service", w.cfg.Name, "error", err)
		}

		interval := w.cfg.PollInterval
		if !w.ready.Load() {
			interval = w.cfg.RetryInterval
		}
		if !w.sleepOrKick(ctx, interval) {
			return
		}
	}
}

// sleepOrKick waits for d, a Recheck, or cancellation, in that select
// order of arrival. Returns false if ctx was cancelled.
func (w *Watcher) sleepOrKick(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-w.kick:
		return true
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
}


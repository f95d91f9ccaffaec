// Package connwatch gates the UI on backend liveness.
//
// A Monitor probes the backend in two phases:
//  1. Startup: probe immediately, then every RetryInterval (5s) for as
//     long as it takes. A cold-starting backend may need minutes to load
//     its models, so there is no retry limit.
//  2. After the first success: the monitor is Ready for good. If
//     PollInterval is set it keeps probing so Available() stays current,
//     but Ready() never reverts.
//
// Probe errors are never fatal; they only mean "not available yet".
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the backend is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Default schedule.
const (
	DefaultRetryInterval = 5 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Config configures a Monitor.
type Config struct {
	// Name identifies the watched service in logs and status output.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// RetryInterval is the delay between probes until the first success.
	RetryInterval time.Duration

	// PollInterval is the delay between probes after the first success.
	// Zero stops probing once ready.
	PollInterval time.Duration

	// ProbeTimeout limits a single probe call.
	ProbeTimeout time.Duration

	// OnReady is called exactly once, from the monitor goroutine, when
	// the first probe succeeds. Must not block. Optional.
	OnReady func()

	// OnChange is called from the monitor goroutine whenever the
	// available flag flips. Must not block. Optional.
	OnChange func(available bool)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// ServiceStatus is the monitor state in a JSON-friendly shape.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Available bool      `json:"available"`
	Probes    int       `json:"probes"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor tracks backend liveness.
type Monitor struct {
	cfg Config

	ready     atomic.Bool
	available atomic.Bool
	readyOnce sync.Once

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
	probes    int
}

// New creates a monitor. Zero durations get package defaults.
//
// Panics if Probe is nil; that is a wiring bug.
func New(cfg Config) *Monitor {
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{cfg: cfg, done: make(chan struct{})}
}

// Start launches the probe goroutine. Calls after the first are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancel = cancel
		m.mu.Unlock()
		go m.run(runCtx)
	})
}

// Stop cancels probing and waits for the goroutine to exit. Safe to
// call more than once, and before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-m.done
}

// Ready reports whether any probe has ever succeeded.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// Available reports the most recent probe result.
func (m *Monitor) Available() bool {
	return m.available.Load()
}

// Status returns the current monitor state.
func (m *Monitor) Status() ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ServiceStatus{
		Name:      m.cfg.Name,
		Ready:     m.ready.Load(),
		Available: m.available.Load(),
		Probes:    m.probes,
		LastCheck: m.lastCheck,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	logger := m.cfg.Logger

	// Phase 1: retry forever until the first success.
	for attempt := 1; ; attempt++ {
		err := m.check(ctx)
		if err == nil {
			logger.Info("backend ready",
				"service", m.cfg.Name,
				"after_attempts", attempt,
			)
			m.readyOnce.Do(func() {
				m.ready.Store(true)
				if m.cfg.OnReady != nil {
					m.cfg.OnReady()
				}
			})
			break
		}

		logger.Debug("backend not available, retrying",
			"service", m.cfg.Name,
			"attempt", attempt,
			"next_delay", m.cfg.RetryInterval.String(),
			"error", err,
		)

		if !sleepCtx(ctx, m.cfg.RetryInterval) {
			return
		}
	}

	if m.cfg.PollInterval == 0 {
		return
	}

	// Phase 2: keep Available() current for status display.
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.check(ctx); err != nil && ctx.Err() == nil {
				logger.Debug("backend probe failed after ready",
					"service", m.cfg.Name,
					"error", err,
				)
			}
		}
	}
}

// check runs one probe with a timeout, records the outcome, and fires
// OnChange on transitions.
func (m *Monitor) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.cfg.Probe(probeCtx)
	cancel()

	m.mu.Lock()
	m.lastErr = err
	m.lastCheck = time.Now()
	m.probes++
	m.mu.Unlock()

	now := err == nil
	if prev := m.available.Swap(now); prev != now {
		if m.cfg.OnChange != nil {
			m.cfg.OnChange(now)
		}
		if !now {
			m.cfg.Logger.Info("backend became unreachable", "service", m.cfg.Name, "error", err)
		}
	}
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// browser/monitor/monitor.go
// Package monitor watches a live page for changes that would invalidate the
// current snapshot: DOM mutation bursts, location changes and page-level
// script errors. Observations are contextual events, never task failures.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/config"
)

// Probe is the read-only page surface the watchers poll. The browser
// session implements it on top of CDP; tests supply fakes.
type Probe interface {
	// InstallMutationCounter injects the page-side MutationObserver that
	// feeds MutationDelta. Installing twice is harmless.
	InstallMutationCounter(ctx context.Context) error
	// MutationDelta returns the mutation count accumulated since the last
	// read and resets the counter.
	MutationDelta(ctx context.Context) (int, error)
	Location(ctx context.Context) (string, error)
}

// Monitor runs three concurrent watchers for the duration of one task.
// One monitor serves sequential tasks: each Start begins with a clean
// slate, so no events or drift carry over from the previous task.
type Monitor struct {
	logger *zap.Logger
	probe  Probe
	cfg    config.TaskConfig

	mu      sync.Mutex
	entries []schemas.HistoryEntry

	drift      atomic.Bool
	pageErrors chan pageError

	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

type pageError struct {
	source string
	detail string
}

// New creates a monitor around the given page probe.
func New(probe Probe, cfg config.TaskConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:     logger.Named("monitor"),
		probe:      probe,
		cfg:        cfg,
		pageErrors: make(chan pageError, 32),
	}
}

// Start installs the mutation counter and launches the watchers. The
// watchers run until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if m.started {
		return fmt.Errorf("monitor already started")
	}
	m.reset()
	if err := m.probe.InstallMutationCounter(ctx); err != nil {
		return fmt.Errorf("installing mutation counter: %w", err)
	}

	baseline, err := m.probe.Location(ctx)
	if err != nil {
		return fmt.Errorf("reading initial location: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	g, groupCtx := errgroup.WithContext(watchCtx)
	m.group = g
	g.Go(func() error { return m.watchMutations(groupCtx) })
	g.Go(func() error { return m.watchLocation(groupCtx, baseline) })
	g.Go(func() error { return m.drainPageErrors(groupCtx) })

	m.logger.Debug("Change monitor started", zap.String("location", baseline))
	return nil
}

// Stop halts the watchers and returns every event observed so far. Calling
// Stop on a monitor that never started returns an empty history.
func (m *Monitor) Stop() []schemas.HistoryEntry {
	if m.started {
		m.cancel()
		// Watchers only exit via context cancellation, so Wait cannot
		// return a non-context error.
		_ = m.group.Wait()
		m.started = false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Drifted reports whether the page changed in a way that invalidates the
// current snapshot. The flag latches until AckDrift.
func (m *Monitor) Drifted() bool {
	return m.drift.Load()
}

// AckDrift clears the drift flag after the orchestrator has re-snapshotted.
func (m *Monitor) AckDrift() {
	m.drift.Store(false)
}

// ReportPageError feeds a page-level script or console error into the
// monitor. The browser session calls this from its CDP event listener; it
// never blocks the listener goroutine.
func (m *Monitor) ReportPageError(source, detail string) {
	select {
	case m.pageErrors <- pageError{source: source, detail: detail}:
	default:
		m.logger.Debug("Page error dropped, event buffer full", zap.String("source", source))
	}
}

// reset discards the previous task's events, drift flag and any page
// errors still buffered from before the watchers came up.
func (m *Monitor) reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	m.drift.Store(false)
	for {
		select {
		case <-m.pageErrors:
		default:
			return
		}
	}
}

func (m *Monitor) watchMutations(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MutationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		delta, err := m.probe.MutationDelta(ctx)
		if err != nil {
			// A failed poll is not drift; the page may be mid navigation.
			m.logger.Debug("Mutation poll failed", zap.Error(err))
			continue
		}
		if delta >= m.cfg.MutationBurstThreshold {
			m.drift.Store(true)
			m.append("mutation_burst", fmt.Sprintf("%d mutations in one poll interval", delta))
			m.logger.Info("Mutation burst detected", zap.Int("mutations", delta))
		}
	}
}

func (m *Monitor) watchLocation(ctx context.Context, baseline string) error {
	ticker := time.NewTicker(m.cfg.LocationPollInterval)
	defer ticker.Stop()

	current := baseline
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		location, err := m.probe.Location(ctx)
		if err != nil {
			m.logger.Debug("Location poll failed", zap.Error(err))
			continue
		}
		if location != current {
			m.drift.Store(true)
			m.append("location_change", current+" -> "+location)
			m.logger.Info("Location changed",
				zap.String("from", current), zap.String("to", location))
			current = location
		}
	}
}

func (m *Monitor) drainPageErrors(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pe := <-m.pageErrors:
			// Script errors are context for the verifier, not drift.
			m.append("page_error", pe.source+": "+pe.detail)
			m.logger.Debug("Page error observed",
				zap.String("source", pe.source), zap.String("detail", pe.detail))
		}
	}
}

func (m *Monitor) append(event, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, schemas.HistoryEntry{
		Kind:      schemas.HistoryEvent,
		Event:     event,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

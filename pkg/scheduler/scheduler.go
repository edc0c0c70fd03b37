package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	"github.com/lucid-vigil/safewatch/pkg/config"
	"github.com/rs/zerolog"
)

// Monitor defines the interface for any periodic task that can be scheduled.
type Monitor interface {
	Name() string
	Run(ctx context.Context)
}

// State is the lifecycle position of a scheduled monitor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type entry struct {
	monitor  Monitor
	interval time.Duration
	state    atomic.Int32
}

// Scheduler manages the registration and execution of periodic monitors.
// Each monitor runs in its own goroutine on its own ticker, so a slow run of
// one never shifts the schedule of another.
type Scheduler struct {
	config  *config.Config
	clock   clock.Clock
	logger  zerolog.Logger
	mu      sync.Mutex
	entries []*entry
	started bool
	wg      sync.WaitGroup
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		config: cfg,
		clock:  clk,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterMonitor adds a monitor. Its interval comes from the reporter entry
// with the same label; disabled or unconfigured monitors are skipped.
func (s *Scheduler) RegisterMonitor(m Monitor) error {
	rc := s.config.GetReporterConfig(m.Name())
	if rc == nil || !rc.Enabled {
		s.logger.Info().Msgf("Monitor '%s' is disabled or not configured, skipping.", m.Name())
		return nil
	}

	interval, err := time.ParseDuration(rc.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval for monitor '%s': %w", m.Name(), err)
	}
	if interval <= 0 {
		return fmt.Errorf("invalid interval for monitor '%s': must be positive", m.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("monitor '%s' registered after scheduler start", m.Name())
	}
	s.entries = append(s.entries, &entry{monitor: m, interval: interval})
	s.logger.Info().Msgf("Monitor '%s' registered with interval %s.", m.Name(), interval)
	return nil
}

// Start launches every registered monitor. Tickers are created before Start
// returns.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.logger.Info().Msg("Scheduler starting...")
	for _, e := range s.entries {
		ticker := s.clock.NewTicker(e.interval)
		e.state.Store(int32(StateRunning))
		s.wg.Add(1)
		go s.runMonitor(ctx, e, ticker)
	}
	s.logger.Info().Int("monitors", len(s.entries)).Msg("All configured monitors started.")
}

// Wait blocks until every monitor goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// State returns the state of the monitor called name, or StateIdle if it is
// not registered.
func (s *Scheduler) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.monitor.Name() == name {
			return State(e.state.Load())
		}
	}
	return StateIdle
}

// Len returns the number of registered monitors.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) runMonitor(ctx context.Context, e *entry, ticker clock.Ticker) {
	defer s.wg.Done()
	defer e.state.Store(int32(StateStopped))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug().Msgf("Running monitor '%s'.", e.monitor.Name())
			s.runOnce(ctx, e.monitor)
		case <-ctx.Done():
			s.logger.Info().Msgf("Monitor '%s' received shutdown signal.", e.monitor.Name())
			return
		}
	}
}

// runOnce isolates a panicking monitor so it cannot take the process down.
func (s *Scheduler) runOnce(ctx context.Context, m Monitor) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msgf("Monitor '%s' panicked.", m.Name())
		}
	}()
	m.Run(ctx)
}

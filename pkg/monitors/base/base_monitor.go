package base

import (
	"context"
	"sync"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/rs/zerolog"
)

// BaseMonitor provides a common foundation for periodic monitors. It tracks
// run bookkeeping and routes errors to the shared error handler.
type BaseMonitor struct {
	name         string
	clock        clock.Clock
	lastRun      time.Time
	lastError    error
	runs         int64
	logger       zerolog.Logger
	errorHandler *agenterrors.ErrorHandler
	mu           sync.Mutex
}

// NewBaseMonitor creates and initializes a new BaseMonitor with a given name and logger.
func NewBaseMonitor(name string, clk clock.Clock, logger zerolog.Logger) *BaseMonitor {
	if clk == nil {
		clk = clock.Real()
	}
	return &BaseMonitor{
		name:   name,
		clock:  clk,
		logger: logger.With().Str("monitor", name).Logger(),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// Logger returns the monitor's logger.
func (b *BaseMonitor) Logger() *zerolog.Logger {
	return &b.logger
}

// Clock returns the monitor's time source.
func (b *BaseMonitor) Clock() clock.Clock {
	return b.clock
}

// SetErrorHandler sets the handler for errors raised by the monitor.
func (b *BaseMonitor) SetErrorHandler(eh *agenterrors.ErrorHandler) {
	b.errorHandler = eh
}

// GetLastError returns the last error that occurred during execution.
func (b *BaseMonitor) GetLastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// GetLastExecutionTime returns the last time the monitor was executed.
func (b *BaseMonitor) GetLastExecutionTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

// Runs returns how many times the monitor has executed.
func (b *BaseMonitor) Runs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

// LogEvent is a helper to log events with the monitor's context.
func (b *BaseMonitor) LogEvent(level zerolog.Level, message string) {
	b.logger.WithLevel(level).Msg(message)
}

// RecordExecution updates the last run time and error status.
func (b *BaseMonitor) RecordExecution(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = b.clock.Now()
	b.lastError = err
	b.runs++
}

// HandleError passes err to the configured error handler, or logs it when
// there is none.
func (b *BaseMonitor) HandleError(ctx context.Context, err *agenterrors.AgentError) {
	if b.errorHandler != nil {
		b.errorHandler.HandleError(ctx, err)
		return
	}
	b.logger.Error().
		Str("kind", string(err.Kind)).
		Bool("recoverable", err.Recoverable).
		AnErr("cause", err.Cause).
		Msg(err.Message)
}

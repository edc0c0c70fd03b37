// pkg/errors/agent_errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors for the agent's failure taxonomy. Wrap them with %w and
// test with errors.Is.
var (
	ErrCaptureUnavailable = stderrors.New("packet capture capability unavailable")
	ErrMalformedRecord    = stderrors.New("malformed packet record")
	ErrLogWrite           = stderrors.New("log write failure")
	ErrConfigLoad         = stderrors.New("config load failure")
)

// Kind classifies an AgentError.
type Kind string

const (
	KindCaptureUnavailable Kind = "capture_unavailable"
	KindMalformedRecord    Kind = "malformed_record"
	KindLogWrite           Kind = "log_write"
	KindConfigLoad         Kind = "config_load"
)

var kindSentinels = map[Kind]error{
	KindCaptureUnavailable: ErrCaptureUnavailable,
	KindMalformedRecord:    ErrMalformedRecord,
	KindLogWrite:           ErrLogWrite,
	KindConfigLoad:         ErrConfigLoad,
}

// AgentError is a structured error raised by one of the agent's components.
type AgentError struct {
	Component   string                 `json:"component"`
	Kind        Kind                   `json:"kind"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error implements the error interface
func (ae *AgentError) Error() string {
	if ae.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", ae.Component, ae.Kind, ae.Message, ae.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", ae.Component, ae.Kind, ae.Message)
}

// Unwrap returns the underlying cause
func (ae *AgentError) Unwrap() error {
	return ae.Cause
}

// Is lets errors.Is match an AgentError against the sentinel for its kind.
func (ae *AgentError) Is(target error) bool {
	sentinel, ok := kindSentinels[ae.Kind]
	return ok && sentinel == target
}

// ErrorStats counts handled errors.
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByKind      map[Kind]int   `json:"errors_by_kind"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	LastError         *AgentError    `json:"last_error,omitempty"`
}

// ErrorHandler logs errors that steady-state loops swallow and keeps counts
// of them so they stay visible.
type ErrorHandler struct {
	logger zerolog.Logger
	mu     sync.Mutex
	stats  ErrorStats
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger.With().Str("component", "error_handler").Logger(),
		stats: ErrorStats{
			ErrorsByKind:      make(map[Kind]int),
			ErrorsByComponent: make(map[string]int),
		},
	}
}

// HandleError logs err at a level matching its severity and records it.
func (eh *ErrorHandler) HandleError(ctx context.Context, err *AgentError) {
	if err == nil {
		return
	}

	logEvent := eh.getLogEvent(err.Severity).
		Str("source", err.Component).
		Str("kind", string(err.Kind)).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}
	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}
	logEvent.Msg(err.Message)

	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats.TotalErrors++
	eh.stats.ErrorsByKind[err.Kind]++
	eh.stats.ErrorsByComponent[err.Component]++
	eh.stats.LastError = err
}

// Stats returns a copy of the collected statistics.
func (eh *ErrorHandler) Stats() ErrorStats {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	out := ErrorStats{
		TotalErrors:       eh.stats.TotalErrors,
		ErrorsByKind:      make(map[Kind]int, len(eh.stats.ErrorsByKind)),
		ErrorsByComponent: make(map[string]int, len(eh.stats.ErrorsByComponent)),
		LastError:         eh.stats.LastError,
	}
	for k, v := range eh.stats.ErrorsByKind {
		out.ErrorsByKind[k] = v
	}
	for k, v := range eh.stats.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	return out
}

// getLogEvent returns the zerolog event for severity. Critical errors are
// logged at error level; terminating the process is the caller's decision.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// Helper functions for creating common error types

func NewCaptureUnavailableError(component string, details map[string]interface{}) *AgentError {
	return &AgentError{
		Component:   component,
		Kind:        KindCaptureUnavailable,
		Message:     "Packet capture library not found",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityInfo,
		Recoverable: false,
	}
}

func NewMalformedRecordError(component string, cause error) *AgentError {
	return &AgentError{
		Component:   component,
		Kind:        KindMalformedRecord,
		Message:     "Skipping packet without a usable source address",
		Timestamp:   time.Now(),
		Severity:    SeverityInfo,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewLogWriteError(component string, path string, cause error) *AgentError {
	return &AgentError{
		Component: component,
		Kind:      KindLogWrite,
		Message:   "Failed to append event to log",
		Details: map[string]interface{}{
			"path": path,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewConfigLoadError(component string, path string, cause error) *AgentError {
	return &AgentError{
		Component: component,
		Kind:      KindConfigLoad,
		Message:   "Failed to load data, continuing without it",
		Details: map[string]interface{}{
			"path": path,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

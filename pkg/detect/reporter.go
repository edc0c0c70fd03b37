// Package detect turns suspicious verdicts into notifications. It never
// blocks traffic or touches network state.
package detect

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/lucid-vigil/safewatch/pkg/sink"
	"github.com/rs/zerolog"
)

const component = "detect"

// Options configures a Reporter. Zero values pick stdout, the wall clock, no
// suppression and no metrics.
type Options struct {
	Console        io.Writer
	SuppressWindow time.Duration
	Clock          clock.Clock
	Metrics        *metrics.Metrics
	Errors         *agenterrors.ErrorHandler
	Logger         zerolog.Logger
}

// Reporter writes a console notice and a DETECT event for each suspicious
// source. It is safe for concurrent use.
type Reporter struct {
	sink       sink.Sink
	console    io.Writer
	consoleMu  sync.Mutex
	suppressor *Suppressor
	metrics    *metrics.Metrics
	errs       *agenterrors.ErrorHandler
	logger     zerolog.Logger
}

// NewReporter creates a Reporter writing to s.
func NewReporter(s sink.Sink, opts Options) *Reporter {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	var sup *Suppressor
	if opts.SuppressWindow > 0 {
		sup = NewSuppressor(opts.SuppressWindow, opts.Clock)
	}
	return &Reporter{
		sink:       s,
		console:    console,
		suppressor: sup,
		metrics:    opts.Metrics,
		errs:       opts.Errors,
		logger:     opts.Logger.With().Str("component", component).Logger(),
	}
}

// Notice is the text written for a suspicious source.
func Notice(source string) string {
	return fmt.Sprintf("[MONITOR] suspicious source detected: %s (not blocked)", source)
}

// Report emits the notification for source. A failed log append is handed to
// the error handler; the console notice is written regardless.
func (r *Reporter) Report(ctx context.Context, source string) {
	if !r.suppressor.Allow(source) {
		if r.metrics != nil {
			r.metrics.SuppressedTotal.Inc()
		}
		r.logger.Debug().Str("source", source).Msg("Detection suppressed inside window.")
		return
	}

	msg := Notice(source)

	r.consoleMu.Lock()
	fmt.Fprintln(r.console, msg)
	r.consoleMu.Unlock()

	if r.metrics != nil {
		r.metrics.DetectionsTotal.Inc()
	}

	if err := r.sink.Append(sink.SeverityWarning, sink.TagDetect, msg); err != nil {
		if r.metrics != nil {
			r.metrics.LogFailuresTotal.WithLabelValues(component).Inc()
		}
		if r.errs != nil {
			r.errs.HandleError(ctx, agenterrors.NewLogWriteError(component, "", err))
		} else {
			r.logger.Error().Err(err).Str("source", source).Msg("Failed to log detection.")
		}
	}
}

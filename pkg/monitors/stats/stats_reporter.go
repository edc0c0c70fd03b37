package stats

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/lucid-vigil/safewatch/pkg/monitors/base"
	"github.com/lucid-vigil/safewatch/pkg/scheduler"
	"github.com/lucid-vigil/safewatch/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/net"
)

// netIOCounters is swapped out in tests.
var netIOCounters = net.IOCountersWithContext

// StatsReporter implements the scheduler.Monitor interface. Each run writes
// one STATS heartbeat with the current counters.
type StatsReporter struct {
	*base.BaseMonitor
	sink    sink.Sink
	metrics *metrics.Metrics
	hostIO  bool

	consoleMu sync.Mutex
	console   io.Writer
}

// Options configures a StatsReporter.
type Options struct {
	Metrics *metrics.Metrics
	HostIO  bool
	Console io.Writer
	Errors  *agenterrors.ErrorHandler
}

// NewStatsReporter creates a reporter identified by label.
func NewStatsReporter(label string, s sink.Sink, b *base.BaseMonitor, opts Options) scheduler.Monitor {
	if b == nil {
		b = base.NewBaseMonitor(label, nil, zerolog.Nop())
	}
	b.SetErrorHandler(opts.Errors)
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	return &StatsReporter{
		BaseMonitor: b,
		sink:        s,
		metrics:     opts.Metrics,
		hostIO:      opts.HostIO,
		console:     console,
	}
}

// Message builds the heartbeat text.
func (sr *StatsReporter) Message(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "update stats interval=%s", sr.Name())

	if sr.metrics != nil {
		snap := sr.metrics.Snapshot()
		fmt.Fprintf(&b, " packets=%d trusted=%d suspicious=%d malformed=%d detections=%d",
			snap.Packets, snap.Trusted, snap.Suspicious, snap.Malformed, snap.Detections)
	}

	if sr.hostIO {
		counters, err := netIOCounters(ctx, false)
		if err != nil || len(counters) == 0 {
			sr.Logger().Debug().Err(err).Int("interfaces", len(counters)).Msg("Host IO counters unavailable.")
		} else {
			fmt.Fprintf(&b, " host_bytes_recv=%d host_bytes_sent=%d", counters[0].BytesRecv, counters[0].BytesSent)
		}
	}
	return b.String()
}

// Run emits one heartbeat. When the log cannot be written the line goes to
// the console instead and the reporter stays scheduled.
func (sr *StatsReporter) Run(ctx context.Context) {
	msg := sr.Message(ctx)

	err := sr.sink.Append(sink.SeverityInfo, sink.TagStats, msg)
	sr.RecordExecution(err)
	if sr.metrics != nil {
		sr.metrics.ReporterRunsTotal.WithLabelValues(sr.Name()).Inc()
	}
	if err == nil {
		return
	}

	if sr.metrics != nil {
		sr.metrics.LogFailuresTotal.WithLabelValues("stats").Inc()
	}
	sr.LogEvent(zerolog.WarnLevel, "Event log unavailable, heartbeat written to console.")
	sr.consoleMu.Lock()
	fmt.Fprintf(sr.console, "[%s] [%s] %s (log unavailable)\n",
		sr.Clock().Now().Format(sink.TimeLayout), sink.TagStats, msg)
	sr.consoleMu.Unlock()
	sr.HandleError(ctx, agenterrors.NewLogWriteError(sr.Name(), "", err))
}

// Package agent wires the read-only observation agent together and runs it
// from startup to shutdown.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/actions"
	"github.com/lucid-vigil/safewatch/pkg/api"
	"github.com/lucid-vigil/safewatch/pkg/capture"
	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/lucid-vigil/safewatch/pkg/clock"
	"github.com/lucid-vigil/safewatch/pkg/config"
	"github.com/lucid-vigil/safewatch/pkg/datalist"
	"github.com/lucid-vigil/safewatch/pkg/detect"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/intake"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/lucid-vigil/safewatch/pkg/monitors/base"
	"github.com/lucid-vigil/safewatch/pkg/monitors/stats"
	"github.com/lucid-vigil/safewatch/pkg/probe"
	"github.com/lucid-vigil/safewatch/pkg/scheduler"
	"github.com/lucid-vigil/safewatch/pkg/sink"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const component = "agent"

// Console lines printed outside the event log.
const (
	BannerTitle      = "=== Safe Monitor Mode ==="
	BannerMode       = "Running in READ-ONLY mode"
	MissingLibrary   = "capture library not found (libpcap / Npcap)"
	InstallManually  = "please install it manually before use"
	StartupMessage   = "safe monitor started in read-only mode"
	DataListMessage  = "load data list completed"
	DataListReloaded = "reload data list completed"
)

// Prober reports whether packet capture can work.
type Prober interface {
	Report(ctx context.Context) probe.Report
}

// Options replaces the agent's collaborators. Zero values pick the real
// implementations.
type Options struct {
	Console    io.Writer
	Clock      clock.Clock
	Probe      Prober
	OpenSink   func(path string) (sink.Sink, error)
	OpenSource func(cfg config.CaptureConfig) (capture.Source, error)
	Metrics    *metrics.Metrics
}

// Agent is the observation agent.
type Agent struct {
	cfg        *config.Config
	console    io.Writer
	clock      clock.Clock
	probe      Prober
	openSink   func(path string) (sink.Sink, error)
	openSource func(cfg config.CaptureConfig) (capture.Source, error)
	metrics    *metrics.Metrics
	errors     *agenterrors.ErrorHandler
	actions    *actions.ActionDispatcher
	logger     zerolog.Logger
}

// New creates an agent for cfg.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) *Agent {
	a := &Agent{
		cfg:        cfg,
		console:    opts.Console,
		clock:      opts.Clock,
		probe:      opts.Probe,
		openSink:   opts.OpenSink,
		openSource: opts.OpenSource,
		metrics:    opts.Metrics,
		logger:     logger.With().Str("component", component).Logger(),
	}
	if a.console == nil {
		a.console = os.Stdout
	}
	a.console = &lockedWriter{w: a.console}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.probe == nil {
		a.probe = probe.NewCaptureProbe(cfg.Capture.LibraryPaths, cfg.Capture.Interface, logger)
	}
	if a.openSink == nil {
		a.openSink = func(path string) (sink.Sink, error) {
			return sink.OpenFile(path, a.clock, logger)
		}
	}
	if a.openSource == nil {
		a.openSource = func(c config.CaptureConfig) (capture.Source, error) {
			return OpenSource(c, logger)
		}
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	a.errors = agenterrors.NewErrorHandler(logger)
	a.actions = actions.NewActionDispatcher(logger)
	return a
}

// Metrics returns the agent's counters.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

// Errors returns the handler that collects the agent's recoverable errors.
func (a *Agent) Errors() *agenterrors.ErrorHandler {
	return a.errors
}

// OpenSource opens the configured capture source. It returns a nil Source
// when neither a file nor an interface is configured.
func OpenSource(c config.CaptureConfig, logger zerolog.Logger) (capture.Source, error) {
	switch {
	case c.PcapFile != "":
		return capture.OpenFile(c.PcapFile, logger)
	case c.Interface != "":
		return capture.OpenLive(c.Interface, logger)
	default:
		return nil, nil
	}
}

// Run starts the agent and blocks until ctx is cancelled and every task has
// stopped. When capture is unavailable it returns an error matching
// agenterrors.ErrCaptureUnavailable without starting anything.
func (a *Agent) Run(ctx context.Context) error {
	a.say(BannerTitle)
	a.say(BannerMode)

	a.actions.RequestElevation(ctx)
	a.actions.LaunchDashboard(ctx)

	report := a.probe.Report(ctx)
	if !report.Available() {
		return a.captureUnavailable(ctx, report)
	}

	s, err := a.openSink(a.cfg.LogFile)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}

	if err := s.Append(sink.SeverityInfo, sink.TagInit, StartupMessage); err != nil {
		return fmt.Errorf("write startup event: %w", err)
	}

	basePredicate, err := a.cfg.TrustedPredicate()
	if err != nil {
		return err
	}
	lists := a.loadDataList(ctx, s)
	predicate := lists.Predicate(basePredicate)

	detector := detect.NewReporter(s, detect.Options{
		Console:        a.console,
		SuppressWindow: a.cfg.Detect.SuppressWindow,
		Clock:          a.clock,
		Metrics:        a.metrics,
		Errors:         a.errors,
		Logger:         a.logger,
	})

	sched := scheduler.NewScheduler(a.cfg, a.clock, a.logger)
	for _, rc := range a.cfg.Reporters {
		reporter := stats.NewStatsReporter(rc.Label, s, base.NewBaseMonitor(rc.Label, a.clock, a.logger), stats.Options{
			Metrics: a.metrics,
			HostIO:  rc.HostIO,
			Console: a.console,
			Errors:  a.errors,
		})
		if err := sched.RegisterMonitor(reporter); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	sched.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		sched.Wait()
		return nil
	})

	loop := a.startIntake(gctx, g, predicate, detector)

	if a.cfg.DataList != "" && a.cfg.WatchDataList {
		w := datalist.NewWatcher(a.cfg.DataList, func(l datalist.Lists) {
			if loop != nil {
				loop.SetPredicate(l.Predicate(basePredicate))
			}
			a.appendInit(gctx, s, DataListReloaded)
		}, a.logger)
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				a.logger.Error().Err(err).Msg("Data list watcher stopped.")
			}
			return nil
		})
	}

	if a.cfg.MetricsAddr != "" {
		srv := api.NewServer(a.cfg.MetricsAddr, a.metrics, a.logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				a.logger.Error().Err(err).Msg("API server failed.")
			}
			return nil
		})
	}

	a.logger.Info().Msg("Agent running.")
	return a.await(ctx, g)
}

func (a *Agent) captureUnavailable(ctx context.Context, report probe.Report) error {
	if !report.LibraryFound {
		a.say(MissingLibrary)
	} else {
		a.say(fmt.Sprintf("capture interface not found: %s", report.Interface))
	}
	a.say(InstallManually)
	a.actions.InstallCaptureLibrary(ctx)

	err := agenterrors.NewCaptureUnavailableError(component, map[string]interface{}{
		"libraries": report.Libraries,
		"interface": report.Interface,
	})
	a.errors.HandleError(ctx, err)
	return err
}

// loadDataList reads the allow/deny list. A missing or unreadable list means
// empty lists.
func (a *Agent) loadDataList(ctx context.Context, s sink.Sink) datalist.Lists {
	var lists datalist.Lists
	if a.cfg.DataList != "" {
		loaded, err := datalist.Load(a.cfg.DataList)
		if err != nil {
			a.errors.HandleError(ctx, agenterrors.NewConfigLoadError(component, a.cfg.DataList, err))
		} else {
			lists = loaded
		}
	}
	a.appendInit(ctx, s, DataListMessage)
	return lists
}

func (a *Agent) appendInit(ctx context.Context, s sink.Sink, msg string) {
	if err := s.Append(sink.SeverityInfo, sink.TagInit, msg); err != nil {
		a.metrics.LogFailuresTotal.WithLabelValues(component).Inc()
		a.errors.HandleError(ctx, agenterrors.NewLogWriteError(component, a.cfg.LogFile, err))
	}
}

// startIntake opens the capture source and runs the intake loop in g. With
// no source the agent idles; an exhausted source leaves it idle as well.
func (a *Agent) startIntake(ctx context.Context, g *errgroup.Group, p classifier.Predicate, d intake.Detector) *intake.Loop {
	src, err := a.openSource(a.cfg.Capture)
	if err != nil {
		a.errors.HandleError(ctx, agenterrors.NewCaptureUnavailableError(component, map[string]interface{}{
			"interface": a.cfg.Capture.Interface,
			"pcap_file": a.cfg.Capture.PcapFile,
			"error":     err.Error(),
		}))
		return nil
	}
	if src == nil {
		a.logger.Info().Msg("No capture source configured, idling.")
		return nil
	}

	loop := intake.NewLoop(src, p, d, a.metrics, a.logger)
	g.Go(func() error {
		defer src.Close()
		if err := loop.Run(ctx); err == nil {
			a.logger.Info().Str("source", src.Name()).Msg("Capture source finished, idling until shutdown.")
		}
		return nil
	})
	return loop
}

// await blocks until ctx is done and the group has stopped, or the shutdown
// timeout passes.
func (a *Agent) await(ctx context.Context, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		a.logger.Info().Msg("Agent stopped.")
		return err
	case <-ctx.Done():
	}

	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		a.logger.Info().Msg("Agent stopped.")
		return err
	case <-timer.C:
		return stderrors.New("shutdown timed out waiting for background tasks")
	}
}

func (a *Agent) say(line string) {
	fmt.Fprintln(a.console, line)
}

// lockedWriter serializes writes from the agent's components to the console.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

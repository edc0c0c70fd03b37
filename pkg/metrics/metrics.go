// Package metrics holds the agent's packet and detection counters. The stats
// reporters read them back for their heartbeat lines; the optional API server
// exposes the same registry.
package metrics

import (
	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "safewatch"

// Metrics is the set of counters updated by the intake loop, the detection
// reporter and the log sink users.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsTotal      prometheus.Counter
	MalformedTotal    prometheus.Counter
	VerdictsTotal     *prometheus.CounterVec
	DetectionsTotal   prometheus.Counter
	SuppressedTotal   prometheus.Counter
	LogFailuresTotal  *prometheus.CounterVec
	ReporterRunsTotal *prometheus.CounterVec
}

// New creates the counters on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets read from the capture source.",
		}),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Packets skipped because no source address could be extracted.",
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Classifier verdicts by outcome.",
		}, []string{"verdict"}),
		DetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detection events emitted.",
		}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_suppressed_total",
			Help:      "Detections not re-emitted inside the suppression window.",
		}),
		LogFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_write_failures_total",
			Help:      "Failed appends to the event log by component.",
		}, []string{"component"}),
		ReporterRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reporter_runs_total",
			Help:      "Stats reporter emissions by label.",
		}, []string{"label"}),
	}

	m.Registry.MustRegister(
		m.PacketsTotal,
		m.MalformedTotal,
		m.VerdictsTotal,
		m.DetectionsTotal,
		m.SuppressedTotal,
		m.LogFailuresTotal,
		m.ReporterRunsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveVerdict counts one classifier outcome.
func (m *Metrics) ObserveVerdict(v classifier.Verdict) {
	m.VerdictsTotal.WithLabelValues(v.String()).Inc()
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Packets    uint64
	Malformed  uint64
	Trusted    uint64
	Suspicious uint64
	Detections uint64
	Suppressed uint64
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Packets:    counterValue(m.PacketsTotal),
		Malformed:  counterValue(m.MalformedTotal),
		Trusted:    counterValue(m.VerdictsTotal.WithLabelValues(classifier.Trusted.String())),
		Suspicious: counterValue(m.VerdictsTotal.WithLabelValues(classifier.Suspicious.String())),
		Detections: counterValue(m.DetectionsTotal),
		Suppressed: counterValue(m.SuppressedTotal),
	}
}

func counterValue(c prometheus.Counter) uint64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil || pb.Counter == nil {
		return 0
	}
	return uint64(pb.Counter.GetValue())
}

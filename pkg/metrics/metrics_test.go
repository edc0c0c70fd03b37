package metrics

import (
	"testing"

	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	m := New()

	m.PacketsTotal.Add(5)
	m.MalformedTotal.Inc()
	m.ObserveVerdict(classifier.Trusted)
	m.ObserveVerdict(classifier.Suspicious)
	m.ObserveVerdict(classifier.Suspicious)
	m.DetectionsTotal.Add(2)
	m.SuppressedTotal.Inc()

	assert.Equal(t, Snapshot{
		Packets:    5,
		Malformed:  1,
		Trusted:    1,
		Suspicious: 2,
		Detections: 2,
		Suppressed: 1,
	}, m.Snapshot())
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.LogFailuresTotal.WithLabelValues("stats").Inc()
	m.ReporterRunsTotal.WithLabelValues("1m").Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LogFailuresTotal.WithLabelValues("stats")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ReporterRunsTotal.WithLabelValues("1m")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["safewatch_packets_total"])
	assert.True(t, names["safewatch_log_write_failures_total"])
	assert.True(t, names["go_goroutines"])
}

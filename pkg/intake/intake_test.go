package intake

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/lucid-vigil/safewatch/pkg/capture/capturetest"
	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/lucid-vigil/safewatch/pkg/detect"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/lucid-vigil/safewatch/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDetector is a mock implementation of the Detector interface.
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Report(ctx context.Context, source string) {
	m.Called(ctx, source)
}

// panicPacket is a packet whose layer accessors panic.
type panicPacket struct {
	gopacket.Packet
}

func (panicPacket) NetworkLayer() gopacket.NetworkLayer {
	panic("corrupt decoder state")
}

func TestExtractSource(t *testing.T) {
	addr, err := ExtractSource(capturetest.IPv4Packet("10.0.0.5", "192.168.1.1"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), addr)

	addr, err = ExtractSource(capturetest.IPv6Packet("2001:db8::7", "2001:db8::1"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::7"), addr)

	malformed := map[string]gopacket.Packet{
		"nil":       nil,
		"arp":       capturetest.Decode(capturetest.ARPFrame()),
		"truncated": capturetest.Decode(capturetest.TruncatedIPv4Frame()),
		"garbage":   capturetest.Decode(capturetest.GarbageFrame()),
		"panic":     panicPacket{},
	}
	for name, pkt := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractSource(pkt)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, agenterrors.ErrMalformedRecord))
		})
	}
}

func TestLoop_ReportsOnlySuspicious(t *testing.T) {
	src := capturetest.NewSource(
		capturetest.IPv4Packet("10.0.0.5", "192.168.1.1"),
		capturetest.IPv4Packet("192.168.1.20", "192.168.1.1"),
		capturetest.IPv6Packet("2001:db8::7", "2001:db8::1"),
	)

	d := new(MockDetector)
	d.On("Report", mock.Anything, "10.0.0.5").Return().Once()
	d.On("Report", mock.Anything, "2001:db8::7").Return().Once()

	m := metrics.New()
	loop := NewLoop(src, classifier.DefaultPredicate(), d, m, zerolog.Nop())
	require.NoError(t, loop.Run(context.Background()))

	d.AssertExpectations(t)
	d.AssertNotCalled(t, "Report", mock.Anything, "192.168.1.20")

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Packets)
	assert.Equal(t, uint64(1), snap.Trusted)
	assert.Equal(t, uint64(2), snap.Suspicious)
}

func TestLoop_MalformedPacketsDoNotStopTheLoop(t *testing.T) {
	src := capturetest.NewSource(
		capturetest.Decode(capturetest.GarbageFrame()),
		panicPacket{},
		nil,
		capturetest.Decode(capturetest.ARPFrame()),
		capturetest.Decode(capturetest.TruncatedIPv4Frame()),
		capturetest.IPv4Packet("198.51.100.4", "192.168.1.1"),
	)

	d := new(MockDetector)
	d.On("Report", mock.Anything, "198.51.100.4").Return().Once()

	m := metrics.New()
	loop := NewLoop(src, classifier.DefaultPredicate(), d, m, zerolog.Nop())
	require.NoError(t, loop.Run(context.Background()))

	d.AssertExpectations(t)
	snap := m.Snapshot()
	assert.Equal(t, uint64(6), snap.Packets)
	assert.Equal(t, uint64(5), snap.Malformed)
}

func TestLoop_DetectorPanicSkipsOnlyThatPacket(t *testing.T) {
	src := capturetest.NewSource(
		capturetest.IPv4Packet("10.0.0.5", "192.168.1.1"),
		capturetest.IPv4Packet("10.0.0.6", "192.168.1.1"),
	)

	d := new(MockDetector)
	d.On("Report", mock.Anything, "10.0.0.5").Run(func(mock.Arguments) {
		panic("detector state corrupted")
	}).Once()
	d.On("Report", mock.Anything, "10.0.0.6").Return().Once()

	var logs bytes.Buffer
	m := metrics.New()
	loop := NewLoop(src, classifier.DefaultPredicate(), d, m, zerolog.New(&logs))
	require.NotPanics(t, func() {
		require.NoError(t, loop.Run(context.Background()))
	})

	d.AssertExpectations(t)
	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Packets)
	assert.Equal(t, uint64(1), snap.Malformed)
	assert.Contains(t, logs.String(), "Recovered while handling packet, skipping it.")
	assert.Contains(t, logs.String(), "detector state corrupted")
}

func TestLoop_ScenarioDetectionEvent(t *testing.T) {
	var console bytes.Buffer
	mem := sink.NewMemorySink(nil)
	reporter := detect.NewReporter(mem, detect.Options{Console: &console, Logger: zerolog.Nop()})

	run := func(source string) {
		src := capturetest.NewSource(capturetest.IPv4Packet(source, "192.168.1.1"))
		loop := NewLoop(src, classifier.DefaultPredicate(), reporter, nil, zerolog.Nop())
		require.NoError(t, loop.Run(context.Background()))
	}

	run("10.0.0.5")
	events := mem.WithTag(sink.TagDetect)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "10.0.0.5")
	assert.Contains(t, console.String(), "10.0.0.5")

	run("192.168.1.20")
	assert.Len(t, mem.WithTag(sink.TagDetect), 1)
	assert.NotContains(t, console.String(), "192.168.1.20")
}

func TestLoop_CancelInterruptsIdleSource(t *testing.T) {
	src := capturetest.NewHoldingSource()
	d := new(MockDetector)
	loop := NewLoop(src, classifier.DefaultPredicate(), d, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("intake loop did not stop on cancel")
	}
	d.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestLoop_SetPredicate(t *testing.T) {
	d := new(MockDetector)
	loop := NewLoop(capturetest.NewSource(), classifier.DefaultPredicate(), d, nil, zerolog.Nop())
	assert.Equal(t, classifier.DefaultPredicate(), loop.Predicate())

	prefixes, err := classifier.ParsePrefixes([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	loop.SetPredicate(classifier.NewPrefixPredicate(prefixes...))
	loop.source = capturetest.NewSource(capturetest.IPv4Packet("10.0.0.5", "192.168.1.1"))

	require.NoError(t, loop.Run(context.Background()))
	d.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

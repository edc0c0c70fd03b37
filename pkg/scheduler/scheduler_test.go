package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	"github.com/lucid-vigil/safewatch/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMonitor is a mock implementation of the Monitor interface.
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMonitor) Run(ctx context.Context) {
	m.Called(ctx)
}

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newMonitor(name string) *MockMonitor {
	m := new(MockMonitor)
	m.On("Name").Return(name)
	return m
}

func TestScheduler_RegisterMonitor(t *testing.T) {
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "enabled", Enabled: true, Interval: "60s"},
		{Label: "disabled", Enabled: false, Interval: "60s"},
	}}
	sched := NewScheduler(cfg, clock.NewMock(epoch), zerolog.Nop())

	assert.NoError(t, sched.RegisterMonitor(newMonitor("enabled")))
	assert.NoError(t, sched.RegisterMonitor(newMonitor("disabled")))
	assert.NoError(t, sched.RegisterMonitor(newMonitor("unconfigured")))
	assert.Equal(t, 1, sched.Len())
	assert.Equal(t, StateIdle, sched.State("enabled"))
}

func TestScheduler_RegisterMonitorInvalidInterval(t *testing.T) {
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "garbage", Enabled: true, Interval: "invalid"},
		{Label: "zero", Enabled: true, Interval: "0s"},
		{Label: "negative", Enabled: true, Interval: "-5s"},
	}}
	sched := NewScheduler(cfg, clock.NewMock(epoch), zerolog.Nop())

	for _, name := range []string{"garbage", "zero", "negative"} {
		assert.Error(t, sched.RegisterMonitor(newMonitor(name)), name)
	}
	assert.Zero(t, sched.Len())
}

func TestScheduler_RegisterAfterStart(t *testing.T) {
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "a", Enabled: true, Interval: "1s"},
		{Label: "b", Enabled: true, Interval: "1s"},
	}}
	sched := NewScheduler(cfg, clock.NewMock(epoch), zerolog.Nop())
	require.NoError(t, sched.RegisterMonitor(newMonitor("a")))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	assert.Error(t, sched.RegisterMonitor(newMonitor("b")))
	cancel()
	sched.Wait()
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	clk := clock.NewMock(epoch)
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "fast", Enabled: true, Interval: "10s"},
		{Label: "slow", Enabled: true, Interval: "25s"},
	}}
	sched := NewScheduler(cfg, clk, zerolog.Nop())

	var fastRuns, slowRuns atomic.Int32
	fast := newMonitor("fast")
	fast.On("Run", mock.Anything).Run(func(mock.Arguments) { fastRuns.Add(1) }).Return()
	slow := newMonitor("slow")
	slow.On("Run", mock.Anything).Run(func(mock.Arguments) { slowRuns.Add(1) }).Return()
	require.NoError(t, sched.RegisterMonitor(fast))
	require.NoError(t, sched.RegisterMonitor(slow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	assert.Equal(t, 2, clk.Tickers())

	// No run before the first interval elapses.
	clk.Advance(9 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fastRuns.Load())

	clk.Advance(91 * time.Second)
	assert.Eventually(t, func() bool {
		return fastRuns.Load() == 10 && slowRuns.Load() == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, sched.State("fast"))
}

func TestScheduler_Shutdown(t *testing.T) {
	clk := clock.NewMock(epoch)
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "m", Enabled: true, Interval: "1s"},
	}}
	sched := NewScheduler(cfg, clk, zerolog.Nop())
	m := newMonitor("m")
	require.NoError(t, sched.RegisterMonitor(m))

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	assert.Equal(t, StateStopped, sched.State("m"))
	assert.Zero(t, clk.Tickers())

	// Ticks after shutdown run nothing.
	clk.Advance(10 * time.Second)
	m.AssertNotCalled(t, "Run", mock.Anything)
}

func TestScheduler_PanicIsolation(t *testing.T) {
	clk := clock.NewMock(epoch)
	cfg := &config.Config{Reporters: []config.ReporterConfig{
		{Label: "bad", Enabled: true, Interval: "1s"},
		{Label: "good", Enabled: true, Interval: "1s"},
	}}
	sched := NewScheduler(cfg, clk, zerolog.Nop())

	var badRuns, goodRuns atomic.Int32
	bad := newMonitor("bad")
	bad.On("Run", mock.Anything).Run(func(mock.Arguments) {
		badRuns.Add(1)
		panic("boom")
	}).Return()
	good := newMonitor("good")
	good.On("Run", mock.Anything).Run(func(mock.Arguments) { goodRuns.Add(1) }).Return()
	require.NoError(t, sched.RegisterMonitor(bad))
	require.NoError(t, sched.RegisterMonitor(good))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	clk.Advance(3 * time.Second)

	assert.Eventually(t, func() bool {
		return badRuns.Load() == 3 && goodRuns.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, sched.State("bad"))
}

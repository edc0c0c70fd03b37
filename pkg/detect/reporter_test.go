package detect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/lucid-vigil/safewatch/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for the concurrent test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_Report(t *testing.T) {
	var console bytes.Buffer
	mem := sink.NewMemorySink(nil)
	m := metrics.New()

	r := NewReporter(mem, Options{Console: &console, Metrics: m, Logger: zerolog.Nop()})
	r.Report(context.Background(), "10.0.0.5")

	events := mem.WithTag(sink.TagDetect)
	require.Len(t, events, 1)
	assert.Equal(t, sink.SeverityWarning, events[0].Severity)
	assert.Contains(t, events[0].Message, "10.0.0.5")
	assert.Equal(t, Notice("10.0.0.5")+"\n", console.String())
	assert.Equal(t, uint64(1), m.Snapshot().Detections)
}

func TestReporter_SinkFailureStillPrints(t *testing.T) {
	var console bytes.Buffer
	mem := sink.NewMemorySink(nil)
	mem.FailWith(fmt.Errorf("disk full"))
	eh := agenterrors.NewErrorHandler(zerolog.Nop())
	m := metrics.New()

	r := NewReporter(mem, Options{Console: &console, Errors: eh, Metrics: m, Logger: zerolog.Nop()})
	assert.NotPanics(t, func() { r.Report(context.Background(), "203.0.113.9") })

	assert.Contains(t, console.String(), "203.0.113.9")
	assert.Empty(t, mem.Events())
	assert.Equal(t, 1, eh.Stats().ErrorsByKind[agenterrors.KindLogWrite])
}

func TestReporter_Concurrent(t *testing.T) {
	const workers, each = 8, 50

	console := &lockedBuffer{}
	mem := sink.NewMemorySink(nil)
	r := NewReporter(mem, Options{Console: console, Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				r.Report(context.Background(), fmt.Sprintf("10.%d.0.%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, mem.WithTag(sink.TagDetect), workers*each)

	lines := 0
	sc := bufio.NewScanner(strings.NewReader(console.String()))
	for sc.Scan() {
		assert.True(t, strings.HasPrefix(sc.Text(), "[MONITOR] suspicious source detected: "), sc.Text())
		lines++
	}
	assert.Equal(t, workers*each, lines)
}

func TestReporter_SuppressWindow(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var console bytes.Buffer
	mem := sink.NewMemorySink(clk)
	m := metrics.New()

	r := NewReporter(mem, Options{
		Console:        &console,
		SuppressWindow: time.Minute,
		Clock:          clk,
		Metrics:        m,
		Logger:         zerolog.Nop(),
	})

	r.Report(context.Background(), "10.0.0.5")
	r.Report(context.Background(), "10.0.0.5")
	r.Report(context.Background(), "10.0.0.6")
	clk.Advance(61 * time.Second)
	r.Report(context.Background(), "10.0.0.5")

	assert.Len(t, mem.WithTag(sink.TagDetect), 3)
	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Detections)
	assert.Equal(t, uint64(1), snap.Suppressed)
}

func TestSuppressor(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSuppressor(10*time.Second, clk)

	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"))
	assert.True(t, s.Allow("b"))
	assert.Equal(t, 2, s.Len())

	clk.Advance(25 * time.Second)
	assert.True(t, s.Allow("a"))
	// "b" expired and was cleaned up by the call above.
	assert.Equal(t, 1, s.Len())

	var nilSup *Suppressor
	assert.True(t, nilSup.Allow("x"))
	assert.True(t, NewSuppressor(0, clk).Allow("x"))
	assert.True(t, NewSuppressor(0, clk).Allow("x"))
}

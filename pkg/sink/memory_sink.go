package sink

import (
	"fmt"
	"sync"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
)

// MemorySink keeps events in memory. It stands in for FileSink in tests.
type MemorySink struct {
	mu     sync.Mutex
	clock  clock.Clock
	events []Event
	err    error
}

// NewMemorySink returns an empty MemorySink. A nil clock means the wall clock.
func NewMemorySink(clk clock.Clock) *MemorySink {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemorySink{clock: clk}
}

// Append records one event, or fails if FailWith has set an error.
func (m *MemorySink) Append(sev Severity, tag, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return fmt.Errorf("memory sink: %w: %w", agenterrors.ErrLogWrite, m.err)
	}
	m.events = append(m.events, Event{Time: m.clock.Now(), Severity: sev, Tag: tag, Message: message})
	return nil
}

// FailWith makes later appends fail with err. A nil err restores normal
// operation.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a copy of the recorded events in append order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// WithTag returns the recorded events carrying tag.
func (m *MemorySink) WithTag(tag string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Tag == tag {
			out = append(out, ev)
		}
	}
	return out
}

package sink

import (
	"fmt"
	"os"
	"sync"

	"github.com/lucid-vigil/safewatch/pkg/clock"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/rs/zerolog"
)

// FileSink appends events to a file opened in append mode. Each event is a
// single write under the sink's mutex.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	clock  clock.Clock
	logger zerolog.Logger
}

// OpenFile opens (creating if needed) the log file at path.
func OpenFile(path string, clk clock.Clock, logger zerolog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w: %w", path, agenterrors.ErrLogWrite, err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &FileSink{
		path:   path,
		file:   f,
		clock:  clk,
		logger: logger.With().Str("component", "sink").Logger(),
	}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes one event. The timestamp is taken while holding the lock so
// line order and timestamp order agree.
func (s *FileSink) Append(sev Severity, tag, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("append to %s: %w: sink closed", s.path, agenterrors.ErrLogWrite)
	}

	ev := Event{Time: s.clock.Now(), Severity: sev, Tag: tag, Message: message}
	if _, err := s.file.WriteString(ev.Line()); err != nil {
		return fmt.Errorf("append to %s: %w: %w", s.path, agenterrors.ErrLogWrite, err)
	}

	s.logger.WithLevel(sev.Level()).Str("tag", tag).Msg(message)
	return nil
}

// Close syncs and closes the underlying file. Appends after Close fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	if closeErr != nil {
		return fmt.Errorf("close log %s: %w", s.path, closeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("sync log %s: %w", s.path, syncErr)
	}
	return nil
}

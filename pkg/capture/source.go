// Package capture adapts packet capture facilities to the intake loop. The
// agent only reads from them: interfaces are never put into promiscuous mode
// and no filters are installed in the kernel.
package capture

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
)

// Source produces captured packets. The channel returned by Packets is closed
// when the source is exhausted or ctx is cancelled.
type Source interface {
	Name() string
	Packets(ctx context.Context) <-chan gopacket.Packet
	Close() error
}

// maxConsecutiveErrors is how many read errors in a row end a stream.
const maxConsecutiveErrors = 64

const packetBuffer = 256

// stream turns a gopacket.PacketDataSource into a Source. Once Packets has
// been called the reader goroutine owns data and closer: the handle is only
// released after the last read has returned. Data sources that can block
// must return a timeout error periodically so the reader notices shutdown.
type stream struct {
	name    string
	data    gopacket.PacketDataSource
	decoder gopacket.Decoder
	closer  io.Closer
	logger  zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newStream(name string, data gopacket.PacketDataSource, decoder gopacket.Decoder, closer io.Closer, logger zerolog.Logger) *stream {
	return &stream{
		name:    name,
		data:    data,
		decoder: decoder,
		closer:  closer,
		logger:  logger.With().Str("component", "capture").Str("source", name).Logger(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *stream) Name() string {
	return s.name
}

// Packets starts the reader goroutine. Only the first call reads; later calls,
// and calls after Close, get a closed channel.
func (s *stream) Packets(ctx context.Context) <-chan gopacket.Packet {
	out := make(chan gopacket.Packet, packetBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		close(out)
		return out
	}
	s.started = true
	go s.read(ctx, out)
	return out
}

func (s *stream) read(ctx context.Context, out chan<- gopacket.Packet) {
	defer close(s.done)
	defer s.release()
	defer close(out)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		data, ci, err := s.data.ReadPacketData()
		if err != nil {
			if readTimeout(err) {
				continue
			}
			if ctx.Err() != nil || endOfStream(err) {
				s.logger.Debug().Err(err).Msg("Capture stream ended.")
				return
			}
			failures++
			if failures >= maxConsecutiveErrors {
				s.logger.Error().Err(err).Int("failures", failures).Msg("Too many capture read errors, stopping stream.")
				return
			}
			s.logger.Debug().Err(err).Msg("Capture read error.")
			continue
		}
		failures = 0

		pkt := gopacket.NewPacket(data, s.decoder, gopacket.Default)
		md := pkt.Metadata()
		md.CaptureInfo = ci

		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Close stops the reader, waits for it to return and then releases the
// handle. It is safe to call more than once.
func (s *stream) Close() error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	} else {
		s.release()
	}
	return s.closeErr
}

func (s *stream) release() {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
}

// readTimeout reports whether err only means no frame arrived in time.
func readTimeout(err error) bool {
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}

// endOfStream reports whether err means the handle is exhausted or already
// closed. Some readers format the errno into the message instead of wrapping
// it.
func endOfStream(err error) bool {
	switch {
	case stderrors.Is(err, io.EOF),
		stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, io.ErrClosedPipe),
		stderrors.Is(err, os.ErrClosed),
		stderrors.Is(err, net.ErrClosed),
		stderrors.Is(err, syscall.EBADF):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed file") ||
		strings.Contains(msg, syscall.EBADF.Error())
}

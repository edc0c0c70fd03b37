// Package intake drives captured packets through classification and
// detection.
package intake

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lucid-vigil/safewatch/pkg/capture"
	"github.com/lucid-vigil/safewatch/pkg/classifier"
	agenterrors "github.com/lucid-vigil/safewatch/pkg/errors"
	"github.com/lucid-vigil/safewatch/pkg/metrics"
	"github.com/rs/zerolog"
)

// Detector receives the sources classified as suspicious.
type Detector interface {
	Report(ctx context.Context, source string)
}

// ExtractSource returns the source address of pkt's network layer. Packets
// without a decodable IPv4 or IPv6 layer yield an error wrapping
// ErrMalformedRecord.
func ExtractSource(pkt gopacket.Packet) (addr netip.Addr, err error) {
	if pkt == nil {
		return netip.Addr{}, fmt.Errorf("%w: nil packet", agenterrors.ErrMalformedRecord)
	}
	defer func() {
		// Lazily decoded packets can panic on corrupt input.
		if r := recover(); r != nil {
			addr, err = netip.Addr{}, fmt.Errorf("%w: decode panic: %v", agenterrors.ErrMalformedRecord, r)
		}
	}()

	var raw []byte
	switch nl := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		raw = nl.SrcIP
	case *layers.IPv6:
		raw = nl.SrcIP
	case nil:
		if el := pkt.ErrorLayer(); el != nil {
			return netip.Addr{}, fmt.Errorf("%w: %v", agenterrors.ErrMalformedRecord, el.Error())
		}
		return netip.Addr{}, fmt.Errorf("%w: no network layer", agenterrors.ErrMalformedRecord)
	default:
		raw = nl.NetworkFlow().Src().Raw()
	}

	a, ok := netip.AddrFromSlice(raw)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: source address of %d bytes", agenterrors.ErrMalformedRecord, len(raw))
	}
	return a.Unmap(), nil
}

// Loop consumes a capture source. It holds the trusted-range predicate in an
// atomic pointer so it can be replaced while the loop runs.
type Loop struct {
	source    capture.Source
	predicate atomic.Pointer[predicateBox]
	detector  Detector
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

type predicateBox struct {
	p classifier.Predicate
}

// NewLoop creates a loop reading src, classifying with p and reporting to d.
// m may be nil.
func NewLoop(src capture.Source, p classifier.Predicate, d Detector, m *metrics.Metrics, logger zerolog.Logger) *Loop {
	l := &Loop{
		source:   src,
		detector: d,
		metrics:  m,
		logger:   logger.With().Str("component", "intake").Str("source", src.Name()).Logger(),
	}
	l.SetPredicate(p)
	return l
}

// SetPredicate replaces the trusted-range predicate. Packets already being
// handled finish with the previous one.
func (l *Loop) SetPredicate(p classifier.Predicate) {
	l.predicate.Store(&predicateBox{p: p})
}

// Predicate returns the predicate in effect.
func (l *Loop) Predicate() classifier.Predicate {
	return l.predicate.Load().p
}

// Run reads packets until the source is exhausted or ctx is cancelled.
// Malformed packets are skipped; Run only returns ctx's error, or nil when the
// source ends.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Msg("Packet intake started.")
	packets := l.source.Packets(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("Packet intake received shutdown signal.")
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				l.logger.Info().Msg("Capture source exhausted.")
				return nil
			}
			l.handle(ctx, pkt)
		}
	}
}

// handle processes one packet. A failure while handling it affects only that
// packet.
func (l *Loop) handle(ctx context.Context, pkt gopacket.Packet) {
	if l.metrics != nil {
		l.metrics.PacketsTotal.Inc()
	}
	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				l.metrics.MalformedTotal.Inc()
			}
			l.logger.Warn().Interface("panic", r).Msg("Recovered while handling packet, skipping it.")
		}
	}()

	addr, err := ExtractSource(pkt)
	if err != nil {
		if l.metrics != nil {
			l.metrics.MalformedTotal.Inc()
		}
		l.logger.Debug().Err(err).Msg("Skipping malformed packet.")
		return
	}

	verdict := classifier.ClassifyAddr(addr, l.Predicate())
	if l.metrics != nil {
		l.metrics.ObserveVerdict(verdict)
	}
	if verdict == classifier.Suspicious {
		l.detector.Report(ctx, addr.String())
	}
}

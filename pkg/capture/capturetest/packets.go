// Package capturetest builds synthetic packets and in-memory sources for
// tests of the capture and intake code.
package capturetest

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0xFF, 0xAA, 0xFA, 0xAA, 0xFF, 0xAA}
	dstMAC = net.HardwareAddr{0xBD, 0xBD, 0xBD, 0xBD, 0xBD, 0xBD}
)

// IPv4Frame serializes an Ethernet/IPv4/UDP frame from src to dst.
func IPv4Frame(src, dst string) []byte {
	ether := layers.Ethernet{
		EthernetType: layers.EthernetTypeIPv4, // must to decode next
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(40000),
		DstPort: layers.UDPPort(53),
	}
	udp.SetNetworkLayerForChecksum(&ip)
	return serialize(&ether, &ip, &udp, gopacket.Payload("safewatch"))
}

// IPv6Frame serializes an Ethernet/IPv6/UDP frame from src to dst.
func IPv6Frame(src, dst string) []byte {
	ether := layers.Ethernet{
		EthernetType: layers.EthernetTypeIPv6,
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
	}
	ip := layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(40000),
		DstPort: layers.UDPPort(53),
	}
	udp.SetNetworkLayerForChecksum(&ip)
	return serialize(&ether, &ip, &udp, gopacket.Payload("safewatch"))
}

// ARPFrame serializes an ARP request, a frame with no IP layer.
func ARPFrame() []byte {
	ether := layers.Ethernet{
		EthernetType: layers.EthernetTypeARP,
		SrcMAC:       srcMAC,
		DstMAC:       layers.EthernetBroadcast,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{192, 168, 1, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{192, 168, 1, 2},
	}
	return serialize(&ether, &arp)
}

// TruncatedIPv4Frame is an Ethernet header announcing IPv4 followed by too few
// bytes to hold an IPv4 header.
func TruncatedIPv4Frame() []byte {
	frame := IPv4Frame("10.0.0.1", "10.0.0.2")
	return frame[:14+8]
}

// GarbageFrame is too short to be an Ethernet frame.
func GarbageFrame() []byte {
	return []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
}

// Decode decodes frame as an Ethernet packet.
func Decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}

// IPv4Packet is Decode(IPv4Frame(src, dst)).
func IPv4Packet(src, dst string) gopacket.Packet {
	return Decode(IPv4Frame(src, dst))
}

// IPv6Packet is Decode(IPv6Frame(src, dst)).
func IPv6Packet(src, dst string) gopacket.Packet {
	return Decode(IPv6Frame(src, dst))
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opt := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opt, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WritePcap writes frames to w as a classic pcap stream with Ethernet link type.
func WritePcap(w io.Writer, frames ...[]byte) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return err
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := pw.WritePacket(ci, frame); err != nil {
			return err
		}
	}
	return nil
}

// Source is an in-memory capture source. It yields its packets in order and
// then either closes the channel or, when Hold is set, blocks until the
// context is cancelled, like a live interface with no traffic.
type Source struct {
	Queued []gopacket.Packet
	Hold   bool

	mu     sync.Mutex
	closed bool
}

// NewSource returns a Source that ends after pkts.
func NewSource(pkts ...gopacket.Packet) *Source {
	return &Source{Queued: pkts}
}

// NewHoldingSource returns a Source that stays open after pkts.
func NewHoldingSource(pkts ...gopacket.Packet) *Source {
	return &Source{Queued: pkts, Hold: true}
}

func (s *Source) Name() string {
	return "memory"
}

func (s *Source) Packets(ctx context.Context) <-chan gopacket.Packet {
	out := make(chan gopacket.Packet)
	go func() {
		defer close(out)
		for _, p := range s.Queued {
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
		if s.Hold {
			<-ctx.Done()
		}
	}()
	return out
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

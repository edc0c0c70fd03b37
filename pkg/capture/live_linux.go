//go:build linux

package capture

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// pollTimeout bounds a single receive so the reader notices shutdown.
const pollTimeout = 200 * time.Millisecond

const maxFrame = 1 << 16

// OpenLive reads frames from iface through an AF_PACKET socket. Opening fails
// without CAP_NET_RAW; the agent does not try to acquire it.
func OpenLive(iface string, logger zerolog.Logger) (Source, error) {
	sock, err := openRawSocket(iface, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", iface, err)
	}
	return newStream("live:"+iface, sock, layers.LinkTypeEthernet, sock, logger), nil
}

// rawSocket is an AF_PACKET socket bound to one interface with a receive
// timeout. Reads that time out return an error whose Timeout method reports
// true.
type rawSocket struct {
	fd      int
	ifindex int
	buf     []byte
}

func openRawSocket(iface string, timeout time.Duration) (*rawSocket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}

	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}
	return &rawSocket{fd: fd, ifindex: ifi.Index, buf: make([]byte, maxFrame)}, nil
}

func (r *rawSocket) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for {
		n, _, err := unix.Recvfrom(r.fd, r.buf, unix.MSG_TRUNC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// EAGAIN from SO_RCVTIMEO satisfies Timeout().
			return nil, gopacket.CaptureInfo{}, fmt.Errorf("recvfrom: %w", err)
		}
		captured := min(n, len(r.buf))
		data := make([]byte, captured)
		copy(data, r.buf[:captured])
		return data, gopacket.CaptureInfo{
			Timestamp:      time.Now(),
			CaptureLength:  captured,
			Length:         n,
			InterfaceIndex: r.ifindex,
		}, nil
	}
}

func (r *rawSocket) Close() error {
	return unix.Close(r.fd)
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

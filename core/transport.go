package core

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrRecvTimeout reports that no datagram arrived within the receive window.
var ErrRecvTimeout = errors.New("receive window elapsed")

// Transport is the raw transport driven by the session. Send transmits one
// ICMP message to the session target; Recv blocks for at most the given
// window and returns one whole IPv4 datagram. Constructing the real
// implementation requires the privilege to open a raw socket.
type Transport interface {
	Send(b []byte) error
	Recv(window time.Duration) ([]byte, net.IP, error)
	Close() error
}

// rawSocket is a Transport over an AF_INET/SOCK_RAW/IPPROTO_ICMP socket.
// Raw ICMP sockets are shared host-wide: every privileged process receives a
// copy of all inbound ICMP traffic, so readers must expect datagrams they
// never asked for.
type rawSocket struct {
	fd  int
	dst unix.SockaddrInet4
}

// openRawSocket opens a raw ICMP socket aimed at dst. A ttl of zero leaves
// the kernel default in place.
func openRawSocket(dst net.IP, ttl int) (*rawSocket, error) {
	ip := dst.To4()
	if ip == nil {
		return nil, fmt.Errorf("%s is not an IPv4 address", dst)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("could not open raw ICMP socket: %w", err)
	}

	if ttl > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, ttl); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("could not set IP TTL to %d: %w", ttl, err)
		}
	}

	s := &rawSocket{fd: fd}
	copy(s.dst.Addr[:], ip)
	return s, nil
}

func (s *rawSocket) Send(b []byte) error {
	return unix.Sendto(s.fd, b, 0, &s.dst)
}

// Recv reads one datagram, waiting at most window. The bound is enforced
// with SO_RCVTIMEO so the calling loop can interleave sends, timeouts and
// stop checks without a dedicated reader goroutine.
func (s *rawSocket) Recv(window time.Duration) ([]byte, net.IP, error) {
	if window < time.Millisecond {
		// a zero timeval would block forever
		window = time.Millisecond
	}

	tv := unix.NsecToTimeval(window.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, nil, fmt.Errorf("could not arm receive timeout: %w", err)
	}

	buf := make([]byte, 1500)
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil, nil, ErrRecvTimeout
		}
		return nil, nil, fmt.Errorf("could not read from raw socket: %w", err)
	}

	var src net.IP
	if sa, ok := from.(*unix.SockaddrInet4); ok {
		src = net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])
	}

	return buf[:n], src, nil
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}

package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/net/ipv4"
)

const (
	echoCode       = 0
	icmpHeaderSize = 8

	icmpTypeEchoReply    = 0
	icmpTypeUnreachable  = 3
	icmpTypeEcho         = 8
	icmpTypeTimeExceeded = 11
)

var (
	// ErrTruncated reports a datagram too short to contain the headers it
	// claims to carry.
	ErrTruncated = errors.New("truncated datagram")

	// ErrChecksumInvalid reports an ICMP message whose checksum does not
	// cover its content.
	ErrChecksumInvalid = errors.New("checksum mismatch")

	// ErrAmbiguousMatch reports an ICMP error message whose embedded copy of
	// the original request is too short to recover the identifier and
	// sequence number. Routers may truncate the copy, so the reply cannot be
	// attributed to a probe and must not be guessed at.
	ErrAmbiguousMatch = errors.New("embedded request too short to recover identifier and sequence")
)

// encodeEchoRequest builds the wire representation of an echo request: type 8,
// code 0, the identifier and sequence number in network byte order, the given
// payload, and the checksum computed over the whole message.
func encodeEchoRequest(id, seq uint16, payload []byte) []byte {
	buf := make([]byte, icmpHeaderSize+len(payload))
	buf[0] = icmpTypeEcho
	buf[1] = echoCode
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], seq)
	copy(buf[icmpHeaderSize:], payload)
	binary.BigEndian.PutUint16(buf[2:4], checksum(buf))
	return buf
}

// checksum computes the RFC 1071 internet checksum: the one's complement of
// the one's complement sum of all 16-bit words, an odd trailing byte padded
// with zero. The caller zeroes the checksum field beforehand; encode does so
// by construction.
func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// validChecksum reports whether an ICMP message carries a correct checksum.
// Summing the message with the checksum field in place must fold to all ones.
func validChecksum(b []byte) bool {
	return checksum(b) == 0
}

// decodePacket parses a whole IPv4 datagram as delivered by the raw socket
// into a Reply. The outer checksum is verified before anything else is
// trusted; a mismatch fails with ErrChecksumInvalid and the caller discards
// the datagram. On ErrAmbiguousMatch the returned Reply still carries the
// source address and TTL so the condition can be surfaced.
func decodePacket(buf []byte) (*Reply, error) {
	if len(buf) > 0 && buf[0]>>4 != ipv4.Version {
		return nil, fmt.Errorf("datagram is not IPv4")
	}

	hdr, err := ipv4.ParseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("could not parse IPv4 header: %w", err)
	}
	if hdr.Len < ipv4.HeaderLen || len(buf) < hdr.Len+icmpHeaderSize {
		return nil, ErrTruncated
	}

	msg := buf[hdr.Len:]
	if !validChecksum(msg) {
		return nil, ErrChecksumInvalid
	}

	reply := &Reply{
		Src: hdr.Src,
		TTL: hdr.TTL,
		Len: len(msg),
	}

	switch msg[0] {
	case icmpTypeEchoReply, icmpTypeEcho:
		reply.Kind = KindEchoReply
		if msg[0] == icmpTypeEcho {
			reply.Kind = KindEchoRequest
		}
		reply.ID = binary.BigEndian.Uint16(msg[4:6])
		reply.Seq = binary.BigEndian.Uint16(msg[6:8])
		reply.Payload = msg[icmpHeaderSize:]
	case icmpTypeTimeExceeded, icmpTypeUnreachable:
		reply.Kind = KindTimeExceeded
		if msg[0] == icmpTypeUnreachable {
			reply.Kind = KindUnreachable
		}
		id, seq, err := decodeEmbeddedRequest(msg[icmpHeaderSize:])
		if err != nil {
			return reply, err
		}
		reply.ID = id
		reply.Seq = seq
	default:
		reply.Kind = KindUnknown
	}

	return reply, nil
}

// decodeEmbeddedRequest recovers the identifier and sequence number from the
// copy of the original IPv4+ICMP request that time-exceeded and
// destination-unreachable messages embed. The copy may be cut anywhere, so
// every bound is checked before use.
func decodeEmbeddedRequest(frag []byte) (id, seq uint16, err error) {
	if len(frag) < ipv4.HeaderLen {
		return 0, 0, ErrAmbiguousMatch
	}

	hdr, err := ipv4.ParseHeader(frag)
	if err != nil {
		return 0, 0, ErrAmbiguousMatch
	}
	if hdr.Len < ipv4.HeaderLen || len(frag) < hdr.Len+icmpHeaderSize {
		return 0, 0, ErrAmbiguousMatch
	}

	inner := frag[hdr.Len:]
	return binary.BigEndian.Uint16(inner[4:6]), binary.BigEndian.Uint16(inner[6:8]), nil
}

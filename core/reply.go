package core

import "net"

// ReplyKind classifies the inbound ICMP messages the session cares about.
type ReplyKind int

const (
	// KindEchoReply is an answer to an echo request.
	KindEchoReply ReplyKind = iota
	// KindTimeExceeded signals that a request's TTL reached zero in transit.
	KindTimeExceeded
	// KindUnreachable signals that a gateway could not deliver a request.
	KindUnreachable
	// KindEchoRequest is an outgoing echo request looped back by the kernel,
	// seen when pinging a local address.
	KindEchoRequest
	// KindUnknown covers every other ICMP message arriving on the shared
	// socket.
	KindUnknown
)

// Reply is a decoded inbound datagram.
type Reply struct {
	Kind ReplyKind

	// Src is the source address and TTL the time-to-live of the received
	// IPv4 datagram.
	Src net.IP
	TTL int

	// ID and Seq identify the echo request this message answers. For
	// TimeExceeded and Unreachable they are recovered from the embedded
	// copy of the original request.
	ID  uint16
	Seq uint16

	// Payload is the echoed data, present on EchoReply and EchoRequest only.
	Payload []byte

	// Len is the length in bytes of the ICMP message.
	Len int
}

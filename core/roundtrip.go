package core

import (
	"net"
	"time"
)

// RoundTripResult is the outcome of one probe.
type RoundTripResult int

const (
	// Replied is the result of an echo request answered with a matching
	// echo reply.
	Replied RoundTripResult = iota
	// TTLExpired is the result of a router reporting the request's TTL
	// reaching zero before arrival.
	TTLExpired
	// Unreachable is the result of a gateway reporting the target as
	// unreachable.
	Unreachable
	// TimedOut is the result of no matching reply arriving in time.
	TimedOut
	// Ambiguous is the result of an ICMP error whose embedded copy of the
	// original request was too truncated to attribute to any probe.
	Ambiguous
)

// RoundTrip carries the outcome of a single probe to the output handlers.
type RoundTrip struct {
	// Seq is the sequence number of the probe, or -1 when the outcome
	// could not be attributed to one (Ambiguous).
	Seq int

	// Time is the measured round-trip time. Meaningful for Replied only;
	// for TimedOut it holds the timeout that expired.
	Time time.Duration

	// TTL is the time-to-live of the received datagram, and Src its source
	// address. Both are zero for TimedOut.
	TTL int
	Src net.IP

	// Len is the length in bytes of the received ICMP message.
	Len int

	Res RoundTripResult
}

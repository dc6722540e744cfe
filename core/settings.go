package core

import (
	"fmt"
	"time"
)

// maxPayloadSize keeps request, IPv4 header and ICMP header inside one
// ethernet frame.
const maxPayloadSize = 1472

// Settings contains all configurable properties of a ping session.
type Settings struct {
	// TTL is the IP Time to Live set on outgoing echo requests.
	TTL int

	// Count is the number of echo requests sent before the session ends on
	// its own. Zero means the session runs until stopped.
	Count int

	// Interval is the pause between a probe being resolved and the next
	// echo request going out.
	Interval time.Duration

	// Timeout is how long to wait for the reply to a single echo request.
	Timeout time.Duration

	// PayloadSize is the number of payload bytes carried by every request.
	PayloadSize int

	// Verbose enables debug logging of the session internals.
	Verbose bool

	// Flood switches the output to flood-style printing.
	Flood bool
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		TTL:         64,
		Count:       0,
		Interval:    time.Second,
		Timeout:     10 * time.Second,
		PayloadSize: 32,
	}
}

func (s *Settings) validate() error {
	if s.TTL < 1 || s.TTL > 255 {
		return fmt.Errorf("ttl must be between 1 and 255, got %d", s.TTL)
	}
	if s.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", s.Count)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.PayloadSize < 0 || s.PayloadSize > maxPayloadSize {
		return fmt.Errorf("payload size must be between 0 and %d, got %d", maxPayloadSize, s.PayloadSize)
	}
	return nil
}

package core

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// queuedDatagram is a datagram the fake transport will deliver once the
// clock passes at.
type queuedDatagram struct {
	buf []byte
	at  time.Time
}

func after(d time.Duration, buf []byte) queuedDatagram {
	return queuedDatagram{buf: buf, at: time.Now().Add(d)}
}

// fakeTransport scripts the raw socket: respond is invoked on every send
// with the transmitted request and the send ordinal, and returns the
// datagrams to deliver back, each after its own delay.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	queue   []queuedDatagram
	respond func(req []byte, n int) []queuedDatagram
	closed  bool
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	req := append([]byte(nil), b...)
	f.sent = append(f.sent, req)
	if f.respond != nil {
		f.queue = append(f.queue, f.respond(req, len(f.sent))...)
	}
	return nil
}

func (f *fakeTransport) Recv(window time.Duration) ([]byte, net.IP, error) {
	deadline := time.Now().Add(window)
	for {
		f.mu.Lock()
		for i, item := range f.queue {
			if time.Now().After(item.at) {
				f.queue = append(f.queue[:i], f.queue[i+1:]...)
				f.mu.Unlock()
				return item.buf, net.IPv4(127, 0, 0, 1), nil
			}
		}
		f.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil, ErrRecvTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func newTestSession(t *testing.T, settings *Settings, ft *fakeTransport) *Session {
	s, err := NewSession(net.IPv4(127, 0, 0, 1), settings)
	assert.NoError(t, err)
	assert.NotNil(t, s)
	s.transport = ft
	return s
}

// collectOutcomes wires handlers recording every round trip and the final
// summary.
func collectOutcomes(s *Session) (*[]*RoundTrip, *Summary) {
	rts := &[]*RoundTrip{}
	summary := &Summary{}
	s.AddOnRoundTrip(func(_ *Session, rt *RoundTrip) {
		*rts = append(*rts, rt)
	})
	s.AddOnFinish(func(_ *Session, sum Summary) {
		*summary = sum
	})
	return rts, summary
}

// TestSessionAllReplied runs four probes answered with increasing delays and
// checks the summary bounds.
func TestSessionAllReplied(t *testing.T) {
	delays := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
	}

	ft := &fakeTransport{}
	ft.respond = func(req []byte, n int) []queuedDatagram {
		return []queuedDatagram{after(delays[n-1], echoReplyFor(req, 54, net.IPv4(127, 0, 0, 1)))}
	}

	settings := DefaultSettings()
	settings.Count = 4
	settings.Interval = 10 * time.Millisecond
	settings.Timeout = 500 * time.Millisecond
	settings.PayloadSize = 16

	s := newTestSession(t, settings, ft)
	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 4, summary.Transmitted)
	assert.Equal(t, 4, summary.Received)
	assert.Zero(t, summary.Loss)
	assert.Equal(t, 4, summary.Samples)
	assert.True(t, summary.RTTMin >= 10*time.Millisecond)
	assert.True(t, summary.RTTMax >= 40*time.Millisecond)
	assert.True(t, summary.RTTMax < settings.Timeout)
	assert.True(t, summary.RTTMin <= summary.RTTAvg && summary.RTTAvg <= summary.RTTMax)

	if assert.Len(t, *rts, 4) {
		for i, rt := range *rts {
			assert.Equal(t, Replied, rt.Res)
			assert.Equal(t, i+1, rt.Seq)
			assert.Equal(t, 54, rt.TTL)
		}
	}

	assert.True(t, s.IsFinished())
	assert.True(t, ft.closed)
	assert.Zero(t, s.table.size())
}

// TestSessionNoReplies runs two probes into silence and checks loss
// accounting and the absence of RTT samples.
func TestSessionNoReplies(t *testing.T) {
	ft := &fakeTransport{}

	settings := DefaultSettings()
	settings.Count = 2
	settings.Interval = 5 * time.Millisecond
	settings.Timeout = 60 * time.Millisecond

	s := newTestSession(t, settings, ft)
	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 2, summary.Transmitted)
	assert.Equal(t, 0, summary.Received)
	assert.Equal(t, float64(100), summary.Loss)
	assert.Equal(t, 0, summary.Samples)
	assert.Equal(t, 2, summary.TimedOut)

	if assert.Len(t, *rts, 2) {
		for _, rt := range *rts {
			assert.Equal(t, TimedOut, rt.Res)
			assert.Equal(t, settings.Timeout, rt.Time)
		}
	}
}

// TestSessionForeignReplyIgnored delivers a reply with a foreign identifier
// ahead of the legitimate one and checks that only the legitimate reply is
// reported.
func TestSessionForeignReplyIgnored(t *testing.T) {
	ft := &fakeTransport{}

	settings := DefaultSettings()
	settings.Count = 1
	settings.Timeout = 300 * time.Millisecond
	settings.PayloadSize = 16

	s := newTestSession(t, settings, ft)

	ft.respond = func(req []byte, n int) []queuedDatagram {
		foreign := append([]byte(nil), req...)
		foreign[0] = icmpTypeEchoReply
		binary.BigEndian.PutUint16(foreign[4:6], s.id+1)
		foreign[2], foreign[3] = 0, 0
		binary.BigEndian.PutUint16(foreign[2:4], checksum(foreign))

		return []queuedDatagram{
			after(5*time.Millisecond, ipv4Datagram(54, net.IPv4(127, 0, 0, 1), foreign)),
			after(30*time.Millisecond, echoReplyFor(req, 54, net.IPv4(127, 0, 0, 1))),
		}
	}

	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 1, summary.Transmitted)
	assert.Equal(t, 1, summary.Received)
	assert.Equal(t, 1, summary.Samples)

	if assert.Len(t, *rts, 1) {
		rt := (*rts)[0]
		assert.Equal(t, Replied, rt.Res)
		assert.Equal(t, 1, rt.Seq)
		assert.True(t, rt.Time >= 30*time.Millisecond)
	}
}

// TestSessionStopMidWait cancels the session while the first probe is still
// waiting and checks that it ends promptly with the partial summary.
func TestSessionStopMidWait(t *testing.T) {
	ft := &fakeTransport{}

	settings := DefaultSettings()
	settings.Count = 0
	settings.Timeout = 5 * time.Second
	settings.Interval = time.Second

	s := newTestSession(t, settings, ft)
	_, summary := collectOutcomes(s)

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()

	time.Sleep(50 * time.Millisecond)
	s.RequestStop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		assert.Fail(t, "stop request did not end the session in time")
		return
	}

	assert.True(t, time.Since(start) < time.Second)
	assert.Equal(t, 1, summary.Transmitted)
	assert.Equal(t, 0, summary.Received)
	assert.True(t, s.IsFinished())
}

// TestSessionTTLExpired matches a time-exceeded answer to the outstanding
// probe: counted as received, no RTT sample.
func TestSessionTTLExpired(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(req []byte, n int) []queuedDatagram {
		return []queuedDatagram{
			after(5*time.Millisecond, icmpErrorFor(icmpTypeTimeExceeded, req, 63, net.IPv4(10, 0, 0, 1), 1<<16)),
		}
	}

	settings := DefaultSettings()
	settings.Count = 1
	settings.Timeout = 200 * time.Millisecond
	settings.PayloadSize = 16

	s := newTestSession(t, settings, ft)
	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 1, summary.Transmitted)
	assert.Equal(t, 1, summary.Received)
	assert.Equal(t, 0, summary.Samples)
	assert.Equal(t, 1, summary.TTLExpired)
	assert.Zero(t, summary.Loss)

	if assert.Len(t, *rts, 1) {
		rt := (*rts)[0]
		assert.Equal(t, TTLExpired, rt.Res)
		assert.Equal(t, 1, rt.Seq)
		assert.True(t, net.IPv4(10, 0, 0, 1).Equal(rt.Src))
	}
}

// TestSessionAmbiguousReported delivers an ICMP error with a truncated
// embedded request before the legitimate reply: the ambiguous outcome is
// surfaced but only the reply is counted.
func TestSessionAmbiguousReported(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(req []byte, n int) []queuedDatagram {
		return []queuedDatagram{
			after(5*time.Millisecond, icmpErrorFor(icmpTypeTimeExceeded, req, 62, net.IPv4(10, 0, 0, 3), 24)),
			after(30*time.Millisecond, echoReplyFor(req, 54, net.IPv4(127, 0, 0, 1))),
		}
	}

	settings := DefaultSettings()
	settings.Count = 1
	settings.Timeout = 300 * time.Millisecond
	settings.PayloadSize = 16

	s := newTestSession(t, settings, ft)
	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 1, summary.Transmitted)
	assert.Equal(t, 1, summary.Received)
	assert.Equal(t, 1, summary.Samples)

	if assert.Len(t, *rts, 2) {
		assert.Equal(t, Ambiguous, (*rts)[0].Res)
		assert.Equal(t, -1, (*rts)[0].Seq)
		assert.Equal(t, Replied, (*rts)[1].Res)
	}
}

// TestSessionDuplicateReplyIgnored delivers the first probe's reply twice;
// the duplicate has no outstanding entry anymore and changes nothing.
func TestSessionDuplicateReplyIgnored(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(req []byte, n int) []queuedDatagram {
		reply := echoReplyFor(req, 54, net.IPv4(127, 0, 0, 1))
		if n == 1 {
			return []queuedDatagram{
				after(5*time.Millisecond, reply),
				after(40*time.Millisecond, reply),
			}
		}
		return []queuedDatagram{after(60*time.Millisecond, reply)}
	}

	settings := DefaultSettings()
	settings.Count = 2
	settings.Interval = 5 * time.Millisecond
	settings.Timeout = 300 * time.Millisecond
	settings.PayloadSize = 16

	s := newTestSession(t, settings, ft)
	rts, summary := collectOutcomes(s)

	assert.NoError(t, s.Run())

	assert.Equal(t, 2, summary.Transmitted)
	assert.Equal(t, 2, summary.Received)
	assert.Equal(t, 2, summary.Samples)

	if assert.Len(t, *rts, 2) {
		assert.Equal(t, 1, (*rts)[0].Seq)
		assert.Equal(t, 2, (*rts)[1].Seq)
	}
}

// TestSessionIsOwn checks the identifier discipline directly.
func TestSessionIsOwn(t *testing.T) {
	s := newTestSession(t, DefaultSettings(), &fakeTransport{})

	assert.True(t, s.isOwn(&Reply{ID: s.id}))
	assert.False(t, s.isOwn(&Reply{ID: s.id + 1}))
}

// TestSessionRunTwice verifies that a finished session cannot be reused.
func TestSessionRunTwice(t *testing.T) {
	ft := &fakeTransport{}

	settings := DefaultSettings()
	settings.Count = 1
	settings.Timeout = 20 * time.Millisecond

	s := newTestSession(t, settings, ft)

	assert.NoError(t, s.Run())
	assert.Error(t, s.Run())
}

// TestNewSessionRejectsIPv6 verifies the IPv4-only contract.
func TestNewSessionRejectsIPv6(t *testing.T) {
	_, err := NewSession(net.ParseIP("2001:db8::1"), DefaultSettings())
	assert.Error(t, err)
}

// TestNewSessionRejectsBadSettings verifies that validation runs at
// construction.
func TestNewSessionRejectsBadSettings(t *testing.T) {
	settings := DefaultSettings()
	settings.TTL = 0

	_, err := NewSession(net.IPv4(127, 0, 0, 1), settings)
	assert.Error(t, err)
}

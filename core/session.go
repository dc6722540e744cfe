package core

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// recvSlice bounds a single blocking receive so a stop request is observed
// promptly even while a probe still has most of its timeout left.
const recvSlice = 200 * time.Millisecond

// Session drives one ping run against a single target.
type Session struct {
	// Stats aggregates the outcomes of this run.
	Stats *Statistics

	settings *Settings

	// id tags every outgoing echo request. The raw socket delivers the
	// inbound ICMP traffic of every process on the host, so this identifier
	// is the only thing separating our replies from everyone else's.
	id uint16

	// lastSeq is the sequence number of the last transmitted echo request.
	lastSeq uint16

	// payload is carried by every echo request of this session.
	payload []byte

	// addr is the resolved IPv4 address of the target.
	addr net.IP

	// table holds the outstanding probes, touched only by the Run loop.
	table *probeTable

	// transport is the raw socket, opened lazily by Run.
	transport Transport

	logger *log.Logger

	// stop is closed by RequestStop; the loop observes it at every
	// blocking-wait boundary.
	stop     chan struct{}
	stopOnce sync.Once

	isStarted  bool
	isFinished bool

	onStart     []func(*Session)
	onSend      []func(*Session, uint16)
	onRoundTrip []func(*Session, *RoundTrip)
	onFinish    []func(*Session, Summary)
}

// NewSession creates a session for the given resolved target address. The
// identifier is derived from the process id, which keeps it stable for the
// run and distinct from other ping processes on the host.
func NewSession(addr net.IP, settings *Settings) (*Session, error) {
	logger := NewLogger(settings.Verbose)

	logger.Debug("Validating settings")
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	ip := addr.To4()
	if ip == nil {
		return nil, fmt.Errorf("%s is not an IPv4 address", addr)
	}

	payload := make([]byte, settings.PayloadSize)
	rand.New(rand.NewSource(time.Now().UTC().UnixNano())).Read(payload)

	s := &Session{
		Stats:    NewStatistics(),
		settings: settings,
		id:       uint16(os.Getpid() & 0xffff),
		payload:  payload,
		addr:     ip,
		table:    newProbeTable(),
		logger:   logger,
		stop:     make(chan struct{}),
	}

	logger.Infof("Created session with id %d targeting %s", s.id, s.addr)

	return s, nil
}

// Run executes the probe/reply loop until the configured count is exhausted
// or a stop is requested. It always ends by handing a Summary to the finish
// handlers; the only error path is failing to open the raw socket, in which
// case no probe was sent.
func (s *Session) Run() error {
	if s.isFinished {
		return fmt.Errorf("this session has already finished")
	}
	if s.isStarted {
		return fmt.Errorf("this session has already started")
	}
	s.isStarted = true

	if s.transport == nil {
		t, err := openRawSocket(s.addr, s.settings.TTL)
		if err != nil {
			return fmt.Errorf("could not set up transport: %w", err)
		}
		s.transport = t
	}
	defer s.transport.Close()

	s.Stats.SessionStarted()

	s.logger.Debug("Calling start handlers")
	for _, f := range s.onStart {
		f(s)
	}

	for !s.stopRequested() {
		if rt := s.nextProbe(); rt != nil {
			s.processRoundTrip(rt)
		}

		if s.reachedRequestLimit() {
			s.logger.Info("Not firing more requests as we have reached the set count")
			break
		}

		if !s.sleepInterval() {
			break
		}
	}

	s.finish()
	return nil
}

// RequestStop asks the session to end without waiting out the current
// probe's timeout. Safe to call from any goroutine, any number of times.
func (s *Session) RequestStop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Requesting to end session")
		close(s.stop)
	})
}

// IsStarted returns whether this session has started.
func (s *Session) IsStarted() bool {
	return s.isStarted
}

// IsFinished returns whether this session has finished.
func (s *Session) IsFinished() bool {
	return s.isFinished
}

// Address is the resolved target address of this session.
func (s *Session) Address() net.IP {
	return s.addr
}

// PayloadSize is the number of payload bytes carried by every request.
func (s *Session) PayloadSize() int {
	return len(s.payload)
}

// AddOnStart adds a handler called once when the session starts.
func (s *Session) AddOnStart(handler func(*Session)) {
	s.onStart = append(s.onStart, handler)
}

// AddOnSend adds a handler called after every transmitted echo request.
func (s *Session) AddOnSend(handler func(*Session, uint16)) {
	s.onSend = append(s.onSend, handler)
}

// AddOnRoundTrip adds a handler called with the outcome of every probe.
func (s *Session) AddOnRoundTrip(handler func(*Session, *RoundTrip)) {
	s.onRoundTrip = append(s.onRoundTrip, handler)
}

// AddOnFinish adds a handler called once with the final summary.
func (s *Session) AddOnFinish(handler func(*Session, Summary)) {
	s.onFinish = append(s.onFinish, handler)
}

// nextProbe transmits the next echo request and waits for its fate: a
// matching reply, an ICMP error naming it, or the timeout deadline. Returns
// nil when the send failed or a stop request cut the wait short.
func (s *Session) nextProbe() *RoundTrip {
	seq := s.lastSeq + 1

	req := encodeEchoRequest(s.id, seq, s.payload)
	s.logger.Infof("Sending echo request id=%d seq=%d to %s", s.id, seq, s.addr)

	sentAt := time.Now()
	err := s.transport.Send(req)

	// sent or not, the sequence is spent and the probe counts as transmitted
	s.lastSeq = seq
	s.Stats.EchoRequested()

	for _, f := range s.onSend {
		f(s, seq)
	}

	if err != nil {
		s.logger.Errorf("Could not send echo request: %s", err)
		return nil
	}

	s.table.add(probe{seq: seq, sentAt: sentAt})

	return s.awaitReply(seq, sentAt)
}

// awaitReply reads from the transport until a datagram matches the
// outstanding probe or the per-probe timeout expires. Everything else
// arriving meanwhile, foreign traffic included, is discarded without
// leaving the wait, since the matching reply may still be on its way.
func (s *Session) awaitReply(seq uint16, sentAt time.Time) *RoundTrip {
	deadline := sentAt.Add(s.settings.Timeout)

	for {
		if s.stopRequested() {
			s.table.take(seq)
			return nil
		}

		window := time.Until(deadline)
		if window <= 0 {
			break
		}
		if window > recvSlice {
			window = recvSlice
		}

		buf, _, err := s.transport.Recv(window)
		if err != nil {
			if errors.Is(err, ErrRecvTimeout) {
				continue
			}
			s.logger.Errorf("Error reading from transport: %s", err)
			continue
		}

		receivedAt := time.Now()

		reply, err := decodePacket(buf)
		if err != nil {
			if errors.Is(err, ErrAmbiguousMatch) {
				s.logger.Debug("Received ICMP error with truncated original request, cannot attribute")
				s.processRoundTrip(&RoundTrip{
					Seq: -1,
					TTL: reply.TTL,
					Src: reply.Src,
					Len: reply.Len,
					Res: Ambiguous,
				})
				continue
			}
			s.logger.Debugf("Discarding undecodable datagram: %s", err)
			continue
		}

		if reply.Kind == KindUnknown || reply.Kind == KindEchoRequest {
			s.logger.Debug("Ignoring ICMP message of an uninteresting kind")
			continue
		}

		if !s.isOwn(reply) {
			s.logger.Debugf("Discarding foreign packet with identifier %d, ours is %d", reply.ID, s.id)
			continue
		}

		match, ok := s.table.take(reply.Seq)
		if !ok {
			s.logger.Debugf("No outstanding probe for sequence %d, discarding", reply.Seq)
			continue
		}

		rt := &RoundTrip{
			Seq: int(reply.Seq),
			TTL: reply.TTL,
			Src: reply.Src,
			Len: reply.Len,
		}

		switch reply.Kind {
		case KindEchoReply:
			rt.Res = Replied
			rt.Time = receivedAt.Sub(match.sentAt)
		case KindTimeExceeded:
			rt.Res = TTLExpired
		case KindUnreachable:
			rt.Res = Unreachable
		}

		return rt
	}

	// deadline reached, drop the stale entry
	s.table.take(seq)

	return &RoundTrip{Seq: int(seq), Res: TimedOut, Time: s.settings.Timeout}
}

// isOwn reports whether a decoded reply was produced by one of this
// session's requests. An identifier mismatch means another process's traffic
// arrived on the shared raw socket.
func (s *Session) isOwn(reply *Reply) bool {
	return reply.ID == s.id
}

// processRoundTrip feeds the outcome to the aggregator and the output
// handlers. Ambiguous outcomes are reported but not counted.
func (s *Session) processRoundTrip(rt *RoundTrip) {
	switch rt.Res {
	case Replied:
		s.Stats.EchoReplied(rt.Time)
	case TTLExpired:
		s.Stats.EchoTTLExpired()
	case Unreachable:
		s.Stats.EchoUnreachable()
	case TimedOut:
		s.Stats.EchoTimedOut()
	}

	for _, f := range s.onRoundTrip {
		f(s, rt)
	}
}

// sleepInterval waits out the send interval, returning false when a stop
// request arrives first.
func (s *Session) sleepInterval() bool {
	t := time.NewTimer(s.settings.Interval)
	defer t.Stop()

	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) reachedRequestLimit() bool {
	return s.settings.Count > 0 && s.Stats.Transmitted() >= s.settings.Count
}

func (s *Session) finish() {
	s.isFinished = true
	s.Stats.SessionEnded()

	summary := s.Stats.Summarize()

	s.logger.Debug("Calling finish handlers")
	for _, f := range s.onFinish {
		f(s, summary)
	}

	s.logger.Info("Session ended")
}

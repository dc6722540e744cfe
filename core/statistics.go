package core

import (
	"math"
	"sync"
	"time"
)

// Summary is the snapshot of a session produced at its end. RTT fields are
// computed over exactly the recorded samples; when Samples is zero they are
// meaningless and must not be shown.
type Summary struct {
	Transmitted int
	Received    int

	// TimedOut, TTLExpired and Unreachable break down the probes that did
	// not complete a successful round trip.
	TimedOut    int
	TTLExpired  int
	Unreachable int

	// Loss is the percentage of transmitted probes that never produced a
	// matching reply of any kind. Zero when nothing was transmitted.
	Loss float64

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration

	// Samples is the number of successful round trips behind the RTT fields.
	Samples int
	RTTMin  time.Duration
	RTTMax  time.Duration
	RTTAvg  time.Duration
	RTTMDev time.Duration
}

// Statistics aggregates the outcomes of a session's probes. The session loop
// is the only writer; output handlers may read concurrently via Summarize.
type Statistics struct {
	mu sync.RWMutex

	transmitted int
	received    int
	timedOut    int
	ttlExpired  int
	unreachable int

	rtts     []time.Duration
	rttMin   time.Duration
	rttMax   time.Duration
	rttSum   time.Duration
	rttSqSum float64

	startedAt time.Time
	endedAt   time.Time
}

// NewStatistics creates an empty aggregator.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// SessionStarted records the wall-clock start of the run.
func (s *Statistics) SessionStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startedAt = time.Now()
}

// SessionEnded freezes the elapsed time reported by Summarize.
func (s *Statistics) SessionEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endedAt = time.Now()
}

// EchoRequested records one transmitted probe. Called exactly once per send.
func (s *Statistics) EchoRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transmitted++
}

// EchoReplied records a completed round trip and its RTT sample.
func (s *Statistics) EchoReplied(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	if len(s.rtts) == 0 || rtt < s.rttMin {
		s.rttMin = rtt
	}
	if rtt > s.rttMax {
		s.rttMax = rtt
	}
	s.rtts = append(s.rtts, rtt)
	s.rttSum += rtt
	s.rttSqSum += float64(rtt) * float64(rtt)
}

// EchoTTLExpired records a time-exceeded answer matched to one of our
// probes. A response did arrive, so it counts as received, but it carries no
// usable RTT.
func (s *Statistics) EchoTTLExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	s.ttlExpired++
}

// EchoUnreachable records a destination-unreachable answer matched to one of
// our probes. Counted as received, no RTT sample.
func (s *Statistics) EchoUnreachable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	s.unreachable++
}

// EchoTimedOut records a probe whose deadline passed with no matching reply.
func (s *Statistics) EchoTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timedOut++
}

// Transmitted returns the number of probes sent so far.
func (s *Statistics) Transmitted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.transmitted
}

// Received returns the number of probes answered so far.
func (s *Statistics) Received() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.received
}

// Summarize returns a consistent snapshot of everything recorded so far. It
// never mutates the aggregator. While the session is still running Elapsed
// tracks the live clock; once SessionEnded has frozen it, repeated calls
// with no intervening records return identical values.
func (s *Statistics) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Transmitted: s.transmitted,
		Received:    s.received,
		TimedOut:    s.timedOut,
		TTLExpired:  s.ttlExpired,
		Unreachable: s.unreachable,
		Samples:     len(s.rtts),
	}

	switch {
	case s.startedAt.IsZero():
	case s.endedAt.IsZero():
		sum.Elapsed = time.Since(s.startedAt)
	default:
		sum.Elapsed = s.endedAt.Sub(s.startedAt)
	}

	if s.transmitted > 0 {
		sum.Loss = 100 * float64(s.transmitted-s.received) / float64(s.transmitted)
	}

	if len(s.rtts) > 0 {
		n := float64(len(s.rtts))
		avg := float64(s.rttSum) / n

		sum.RTTMin = s.rttMin
		sum.RTTMax = s.rttMax
		sum.RTTAvg = time.Duration(avg)
		sum.RTTMDev = time.Duration(math.Sqrt(s.rttSqSum/n - avg*avg))
	}

	return sum
}

package core

import "time"

// probe is one outstanding echo request.
type probe struct {
	seq    uint16
	sentAt time.Time
}

// probeTable is the set of in-flight probes, keyed by sequence number. The
// session sends one probe and resolves it before sending the next, so the
// table holds at most one entry at a time; it is touched only by the
// session's control loop and needs no locking.
type probeTable struct {
	probes map[uint16]probe
}

func newProbeTable() *probeTable {
	return &probeTable{probes: make(map[uint16]probe)}
}

// add inserts a probe, replacing any stale entry with the same sequence
// number so a sequence never appears twice.
func (t *probeTable) add(p probe) {
	t.probes[p.seq] = p
}

// take removes and returns the probe with the given sequence number. The
// second return is false when the sequence has no outstanding entry, which
// is how duplicate, already-timed-out and spoofed replies are recognized.
func (t *probeTable) take(seq uint16) (probe, bool) {
	p, ok := t.probes[seq]
	if ok {
		delete(t.probes, seq)
	}
	return p, ok
}

func (t *probeTable) size() int {
	return len(t.probes)
}

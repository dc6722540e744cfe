package cmd

import (
	"fmt"
	"time"

	"github.com/lfarias/goping/core"
)

// registerPrinter wires the classic ping output to a runner's session.
func registerPrinter(r *Runner) {
	r.session.AddOnStart(func(s *core.Session) {
		printOnStart(r.target, s)
	})
	r.session.AddOnRoundTrip(func(s *core.Session, rt *core.RoundTrip) {
		printRoundTrip(r.target, s, rt)
	})
	r.session.AddOnFinish(func(s *core.Session, sum core.Summary) {
		printSummary(r.target, sum)
	})
}

func printOnStart(target string, s *core.Session) {
	fmt.Printf("PING %s (%s) %d bytes of data\n", target, s.Address(), s.PayloadSize())
}

func printRoundTrip(target string, s *core.Session, rt *core.RoundTrip) {
	switch rt.Res {
	case core.Replied:
		fmt.Printf("%d bytes from %s (%s): icmp_seq=%d ttl=%d time=%s\n",
			rt.Len, target, rt.Src, rt.Seq, rt.TTL, rt.Time.Truncate(time.Microsecond))
	case core.TimedOut:
		fmt.Printf("no reply from %s (%s): icmp_seq=%d timeout of %s expired\n",
			target, s.Address(), rt.Seq, rt.Time)
	case core.TTLExpired:
		fmt.Printf("From %s: icmp_seq=%d Time to live exceeded\n", rt.Src, rt.Seq)
	case core.Unreachable:
		fmt.Printf("From %s: icmp_seq=%d Destination unreachable\n", rt.Src, rt.Seq)
	case core.Ambiguous:
		fmt.Printf("From %s: ICMP error with truncated original request, cannot match to a probe\n", rt.Src)
	}
}

func printSummary(target string, sum core.Summary) {
	fmt.Println()
	fmt.Printf("--- %s ping statistics ---\n", target)

	line := fmt.Sprintf("%d packets transmitted, %d received", sum.Transmitted, sum.Received)
	if errors := sum.TTLExpired + sum.Unreachable; errors > 0 {
		line += fmt.Sprintf(", +%d errors", errors)
	}
	fmt.Printf("%s, %.0f%% packet loss, time %s\n",
		line, sum.Loss, sum.Elapsed.Truncate(time.Millisecond))

	if sum.Samples == 0 {
		return
	}

	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	fmt.Printf("rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n",
		ms(sum.RTTMin), ms(sum.RTTAvg), ms(sum.RTTMax), ms(sum.RTTMDev))
}

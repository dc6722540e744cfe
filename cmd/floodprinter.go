package cmd

import (
	"fmt"
	"sync"

	"github.com/lfarias/goping/core"
)

var printMutex sync.Mutex

// registerFloodPrinter prints one dot per transmitted request and erases it
// when the matching reply arrives, classic ping -f style.
func registerFloodPrinter(r *Runner) {
	r.session.AddOnStart(func(s *core.Session) {
		printOnStart(r.target, s)
	})
	r.session.AddOnSend(func(s *core.Session, seq uint16) {
		printMutex.Lock()
		defer printMutex.Unlock()

		fmt.Print(".")
	})
	r.session.AddOnRoundTrip(func(s *core.Session, rt *core.RoundTrip) {
		printMutex.Lock()
		defer printMutex.Unlock()

		if rt.Res == core.Replied {
			fmt.Print("\b \b")
		}
	})
	r.session.AddOnFinish(func(s *core.Session, sum core.Summary) {
		fmt.Println()
		printSummary(r.target, sum)
	})
}

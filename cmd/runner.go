package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/lfarias/goping/core"
)

// Runner ties a session to the process environment: it resolves the target
// hostname, wires the printers, and turns interrupt signals into a stop
// request.
type Runner struct {
	session *core.Session
	target  string
	sigch   chan os.Signal
	endch   chan error
}

// newRunner resolves the target and creates a session wired for printing.
func newRunner(target string, settings *core.Settings) (*Runner, error) {
	ipaddr, err := net.ResolveIPAddr("ip4", target)
	if err != nil {
		return nil, fmt.Errorf("could not resolve %s: %w", target, err)
	}

	session, err := core.NewSession(ipaddr.IP, settings)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		session: session,
		target:  target,
		sigch:   make(chan os.Signal, 1),
		endch:   make(chan error, 1),
	}

	if settings.Flood {
		registerFloodPrinter(r)
	} else {
		registerPrinter(r)
	}

	return r, nil
}

// Start starts the session in the background.
func (r *Runner) Start() {
	r.handleSignals()

	go func() {
		r.endch <- r.session.Run()
	}()
}

// RequestStop requests the stop of the session.
func (r *Runner) RequestStop() {
	r.session.RequestStop()
}

// Wait blocks the caller until the session finishes.
func (r *Runner) Wait() error {
	return <-r.endch
}

func (r *Runner) handleSignals() {
	signal.Notify(r.sigch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-r.sigch
		r.RequestStop()
	}()
}

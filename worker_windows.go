//go:build windows

package orbital

import (
	"os"
	"os/signal"
)

// setSignalsForChannel configures the channel to receive interrupts.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt)
}

// interruptProcess stops p. Windows has no SIGTERM, so this kills it.
func interruptProcess(p *os.Process) error {
	return p.Kill()
}

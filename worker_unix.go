//go:build !windows

package orbital

import (
	"os"
	"os/signal"
	"syscall"
)

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

// interruptProcess asks p to stop with SIGTERM.
func interruptProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

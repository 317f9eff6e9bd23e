//go:build windows

package orbital

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

func generateName(*pipeOptions) (string, error) {
	return generateEndpoint()
}

// PipePath returns the named pipe path for a channel name.
func PipePath(name string) string {
	return pipePrefix + name
}

// connect listens on the named pipe as the server and accepts one peer, or
// dials it as the client. Both directions share one handle.
func (p *Pipe) connect() error {
	addr := PipePath(p.name)
	p.log.Info().Str("addr", addr).Msg("opening named pipe")

	if p.role == RoleServer {
		l, err := winio.ListenPipe(addr, nil)
		if err != nil {
			return err
		}
		if !p.track(l) {
			return ErrClosed
		}
		go func() {
			c, err := l.Accept()
			if err != nil {
				p.fail(fmt.Errorf("accept: %w", err))
				return
			}
			// One peer per channel: later dials must find nothing to connect to.
			if err := l.Close(); err != nil {
				p.log.Warn().Err(err).Msg("close listener")
			}
			p.attachConn(c)
		}()
		return nil
	}

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-p.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		c, err := winio.DialPipeContext(ctx, addr)
		if err != nil {
			p.fail(fmt.Errorf("dial: %w", err))
			return
		}
		p.attachConn(c)
	}()
	return nil
}

func (p *Pipe) attachConn(c net.Conn) {
	p.attachReader(c)
	p.attachWriter(c, false)
}

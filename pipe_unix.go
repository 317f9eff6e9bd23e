//go:build unix

package orbital

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	fifoDir    = "fifo"
	fifoIn     = "i"
	fifoOut    = "o"
	namePrefix = "ipc-"
)

func generateName(o *pipeOptions) (string, error) {
	id, err := generateEndpoint()
	if err != nil {
		return "", err
	}
	return filepath.Join(o.tempDir, namePrefix+id), nil
}

// FIFOPaths returns the FIFO a role writes to and the one it reads from under
// the channel directory name.
func FIFOPaths(name string, role Role) (write, read string) {
	dir := filepath.Join(name, fifoDir)
	if role == RoleServer {
		return filepath.Join(dir, fifoIn), filepath.Join(dir, fifoOut)
	}
	return filepath.Join(dir, fifoOut), filepath.Join(dir, fifoIn)
}

// connect makes sure the FIFO pair exists and opens both ends in the
// background. Opening a FIFO blocks until the peer opens the other end, so the
// two opens run independently.
func (p *Pipe) connect() error {
	if err := ensureFIFOs(p.name); err != nil {
		return err
	}
	if p.role == RoleServer {
		p.mu.Lock()
		p.cleanup = func() error { return removeFIFOs(p.name) }
		p.mu.Unlock()
	}

	wpath, rpath := FIFOPaths(p.name, p.role)
	p.log.Info().Str("write", wpath).Str("read", rpath).Msg("opening fifo pair")

	go func() {
		f, err := os.OpenFile(wpath, os.O_WRONLY, 0)
		if err != nil {
			p.fail(fmt.Errorf("open write fifo: %w", err))
			return
		}
		p.attachWriter(f, true)
	}()
	go func() {
		f, err := os.OpenFile(rpath, os.O_RDONLY, 0)
		if err != nil {
			p.fail(fmt.Errorf("open read fifo: %w", err))
			return
		}
		p.attachReader(f)
	}()
	return nil
}

// ensureFIFOs creates name/fifo/{i,o} unless they already exist. The FIFOs are
// made in a private staging directory and published with one rename, so a peer
// never sees a half built pair. Losing the publish race to the peer is not an
// error: both sides then use the winner's FIFOs.
func ensureFIFOs(name string) error {
	fifo := filepath.Join(name, fifoDir)
	if _, err := os.Stat(fifo); err == nil {
		return nil
	}
	if err := os.MkdirAll(name, 0o700); err != nil {
		return fmt.Errorf("create channel dir: %w", err)
	}

	staging, err := os.MkdirTemp(name, "tmp-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	for _, f := range []string{fifoIn, fifoOut} {
		if err := unix.Mkfifo(filepath.Join(staging, f), 0o600); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("mkfifo %s: %w", f, err)
		}
	}

	if err := publish(staging, fifo); err != nil {
		os.RemoveAll(staging)
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("publish fifo pair: %w", err)
	}
	return nil
}

// removeFIFOs deletes both FIFOs, the fifo directory and the channel directory.
// Open descriptors stay valid.
func removeFIFOs(name string) error {
	fifo := filepath.Join(name, fifoDir)
	var errs []error
	for _, p := range []string{
		filepath.Join(fifo, fifoIn),
		filepath.Join(fifo, fifoOut),
		fifo,
		name,
	} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

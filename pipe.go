package orbital

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Role selects which side of the channel a Pipe owns.
type Role int

const (
	// RoleServer is the side that created (or was told to own) the channel.
	RoleServer Role = iota
	// RoleClient attaches to an existing channel.
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ReadBufferSize is the size of the scratch buffer each read fills.
const ReadBufferSize = 64 * 1024

// PipeOption configures a Pipe.
type PipeOption func(*pipeOptions)

type pipeOptions struct {
	logger  *zerolog.Logger
	tempDir string
}

// WithPipeLogger sets the logger used for pipe diagnostics.
func WithPipeLogger(l zerolog.Logger) PipeOption {
	return func(o *pipeOptions) { o.logger = &l }
}

// WithTempDir sets the directory Create places new FIFO channels in. It is
// ignored on Windows. Defaults to os.TempDir().
func WithTempDir(dir string) PipeOption {
	return func(o *pipeOptions) { o.tempDir = dir }
}

func buildPipeOptions(opts []PipeOption) *pipeOptions {
	o := &pipeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	return o
}

// Pipe is a duplex, order preserving byte stream between two processes.
//
// On Windows a Pipe is a named pipe at \\.\pipe\<name>. On POSIX systems the
// name is a directory holding two FIFOs, fifo/i and fifo/o; the server writes
// i and reads o, the client does the opposite.
//
// A Pipe is usable as soon as it is returned: writes issued before the peer
// connects are queued and flushed in order once the write side opens.
// Pipe is safe for concurrent use.
type Pipe struct {
	name string
	role Role
	log  zerolog.Logger

	// wmu serialises writes with the queue flush so ordering holds across
	// the connect window.
	wmu sync.Mutex

	mu         sync.Mutex
	w          io.Writer
	r          io.Reader
	queue      [][]byte
	closers    []io.Closer
	readerOpen bool
	writerOpen bool
	opened     bool
	closed     bool
	subscribed bool
	failure    error
	cleanup    func() error

	scratch []byte
	ready   chan struct{}
	done    chan struct{}
}

func newPipe(name string, role Role, o *pipeOptions) *Pipe {
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	return &Pipe{
		name:    name,
		role:    role,
		log:     logger.With().Str("component", "pipe").Str("pipe", name).Str("role", role.String()).Logger(),
		scratch: make([]byte, ReadBufferSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Create makes a new channel with a fresh random name and takes the server
// role. Setup continues in the background; the returned Pipe is not yet
// connected.
func Create(opts ...PipeOption) (*Pipe, error) {
	o := buildPipeOptions(opts)
	name, err := generateName(o)
	if err != nil {
		return nil, err
	}
	return openPipe(name, RoleServer, o)
}

// Open attaches to an existing channel as the client.
func Open(name string, opts ...PipeOption) (*Pipe, error) {
	return openPipe(name, RoleClient, buildPipeOptions(opts))
}

// OpenServer takes the server role on a pre-arranged channel name, typically
// one handed over through the environment.
func OpenServer(name string, opts ...PipeOption) (*Pipe, error) {
	return openPipe(name, RoleServer, buildPipeOptions(opts))
}

func openPipe(name string, role Role, o *pipeOptions) (*Pipe, error) {
	if name == "" {
		return nil, errors.New("orbital: empty pipe name")
	}
	p := newPipe(name, role, o)
	if err := p.connect(); err != nil {
		p.Close()
		return nil, fmt.Errorf("orbital: open pipe %s: %w", name, err)
	}
	return p, nil
}

// NewStreamPipe runs the Pipe machinery over an already connected duplex
// stream such as a net.Conn.
func NewStreamPipe(name string, role Role, rwc io.ReadWriteCloser, opts ...PipeOption) *Pipe {
	p := newPipe(name, role, buildPipeOptions(opts))
	p.attachReader(rwc)
	p.attachWriter(rwc, false)
	return p
}

// NewSplitPipe runs the Pipe machinery over a separate reader and writer, such
// as the two ends of os.Pipe pairs handed to a child process.
func NewSplitPipe(name string, role Role, r io.ReadCloser, w io.WriteCloser, opts ...PipeOption) *Pipe {
	p := newPipe(name, role, buildPipeOptions(opts))
	p.attachReader(r)
	p.attachWriter(w, true)
	return p
}

// generateEndpoint returns 32 random bytes, hex encoded.
func generateEndpoint() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("orbital: generate pipe name: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Name returns the channel identity.
func (p *Pipe) Name() string { return p.name }

// Role returns the side of the channel this Pipe owns.
func (p *Pipe) Role() Role { return p.role }

// Ready is closed once both directions are open.
func (p *Pipe) Ready() <-chan struct{} { return p.ready }

// Done is closed when the Pipe is closed.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Write sends b to the peer, or queues a copy of it if the write side has not
// opened yet. A failed write closes the Pipe.
func (p *Pipe) Write(b []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	w := p.w
	if w == nil {
		p.queue = append(p.queue, append([]byte(nil), b...))
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if _, err := w.Write(b); err != nil {
		p.log.Error().Err(err).Int("bytes", len(b)).Msg("write failed")
		p.Close()
		return fmt.Errorf("orbital: write %s: %w", p.name, err)
	}
	return nil
}

// Subscribe attaches h and starts the read loop. Only the first call has an
// effect.
func (p *Pipe) Subscribe(h Handler) {
	p.mu.Lock()
	if p.subscribed {
		p.mu.Unlock()
		p.log.Warn().Msg("pipe already has a subscriber")
		return
	}
	p.subscribed = true
	p.mu.Unlock()

	go p.run(h)
}

// Close releases the underlying descriptors and ends the stream. Only the first
// call has an effect.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	closers := p.closers
	p.closers = nil
	p.queue = nil
	p.mu.Unlock()

	close(p.done)

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	p.log.Debug().Msg("pipe closed")
	return errors.Join(errs...)
}

// run delivers events to h: open once connected, then data until the stream
// ends. The next read is issued as soon as the previous chunk was handled.
func (p *Pipe) run(h Handler) {
	select {
	case <-p.ready:
	case <-p.done:
		p.finish(h)
		return
	}
	h.HandleOpen()

	p.mu.Lock()
	r := p.r
	p.mu.Unlock()

	for {
		n, err := r.Read(p.scratch)
		if n > 0 {
			h.HandleData(p.scratch[:n])
		}
		if err != nil || n == 0 {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				if err != nil && !errors.Is(err, io.EOF) {
					p.log.Warn().Err(err).Msg("read failed")
				} else {
					p.log.Debug().Msg("peer closed the stream")
				}
			}
			p.Close()
			p.finish(h)
			return
		}
	}
}

func (p *Pipe) finish(h Handler) {
	p.mu.Lock()
	failure := p.failure
	p.mu.Unlock()
	if failure != nil {
		h.HandleError(failure)
	}
	h.HandleEnd()
}

// fail records a terminal setup or flush failure and closes the Pipe.
func (p *Pipe) fail(err error) {
	p.mu.Lock()
	if p.failure == nil {
		p.failure = err
	}
	p.mu.Unlock()
	p.log.Error().Err(err).Msg("pipe failed")
	p.Close()
}

// track registers c for Close. If the Pipe is already closed c is closed
// immediately and false is returned.
func (p *Pipe) track(c io.Closer) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.Close()
		return false
	}
	p.closers = append(p.closers, c)
	p.mu.Unlock()
	return true
}

func (p *Pipe) attachReader(r io.ReadCloser) {
	if !p.track(r) {
		return
	}
	p.log.Debug().Msg("read side open")
	p.mu.Lock()
	p.r = r
	p.readerOpen = true
	p.mu.Unlock()
	p.checkOpen()
}

// attachWriter flushes the queued writes to w in order and then makes w the
// live writer.
func (p *Pipe) attachWriter(w io.WriteCloser, track bool) {
	if track && !p.track(w) {
		return
	}
	p.log.Debug().Msg("write side open")

	p.wmu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wmu.Unlock()
		return
	}
	queue := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, b := range queue {
		if _, err := w.Write(b); err != nil {
			p.wmu.Unlock()
			p.fail(fmt.Errorf("flush queued write: %w", err))
			return
		}
	}
	if len(queue) > 0 {
		p.log.Debug().Int("writes", len(queue)).Msg("flushed queued writes")
	}

	p.mu.Lock()
	p.w = w
	p.writerOpen = true
	p.mu.Unlock()
	p.wmu.Unlock()
	p.checkOpen()
}

func (p *Pipe) checkOpen() {
	p.mu.Lock()
	if p.opened || !p.readerOpen || !p.writerOpen || p.closed {
		p.mu.Unlock()
		return
	}
	p.opened = true
	cleanup := p.cleanup
	p.cleanup = nil
	p.mu.Unlock()

	if cleanup != nil && p.role == RoleServer {
		if err := cleanup(); err != nil {
			p.log.Warn().Err(err).Msg("cleanup of channel files failed")
		}
	}
	p.log.Info().Msg("pipe connected")
	close(p.ready)
}

package orbital

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/richinsley/orbital/internal/testutil/testlog"
)

// memTransport records writes and lets tests inject inbound chunks.
type memTransport struct {
	name string

	mu       sync.Mutex
	buf      bytes.Buffer
	h        Handler
	closed   bool
	writeErr error
}

func newMemTransport(name string) *memTransport {
	return &memTransport{name: name}
}

func (m *memTransport) Name() string { return m.name }

func (m *memTransport) Subscribe(h Handler) {
	m.mu.Lock()
	m.h = h
	m.mu.Unlock()
	h.HandleOpen()
}

func (m *memTransport) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.buf.Write(p)
	return nil
}

// Close marks the transport closed and reports the end of the stream, as a
// Pipe does.
func (m *memTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.h
	m.mu.Unlock()
	if h != nil {
		h.HandleEnd()
	}
	return nil
}

func (m *memTransport) failWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// written returns and clears everything written so far.
func (m *memTransport) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]byte(nil), m.buf.Bytes()...)
	m.buf.Reset()
	return out
}

// feed delivers b to the subscriber as one chunk.
func (m *memTransport) feed(b []byte) {
	m.mu.Lock()
	h := m.h
	m.mu.Unlock()
	h.HandleData(b)
}

func (m *memTransport) end() {
	m.mu.Lock()
	h := m.h
	m.mu.Unlock()
	h.HandleEnd()
}

// exitRecorder captures exit codes instead of terminating the test binary.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
}

func (e *exitRecorder) get() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newTestProtocol(t *testing.T, tr Transport, opts ...Option) *Protocol {
	t.Helper()
	return newTestProtocolExit(t, tr, &exitRecorder{}, opts...)
}

func newTestProtocolExit(t *testing.T, tr Transport, rec *exitRecorder, opts ...Option) *Protocol {
	t.Helper()
	base := []Option{WithLogger(testlog.Start(t)), WithExit(rec.exit)}
	p := NewProtocol(append(base, opts...)...)
	if err := p.Start(tr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

// frame encodes pkt or fails the test.
func frame(t *testing.T, pkt Packet) []byte {
	t.Helper()
	b, err := AppendFrame(nil, pkt)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	return b
}

// decodeAll reassembles and decodes every packet in b.
func decodeAll(t *testing.T, b []byte) []Packet {
	t.Helper()
	var r Reassembler
	r.Write(b)
	var out []Packet
	for {
		payload, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		pkt, err := DecodePayload(payload)
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		out = append(out, pkt)
	}
	if r.Buffered() != 0 {
		t.Fatalf("Expected no trailing bytes, %d left", r.Buffered())
	}
	return out
}

func mustValues(t *testing.T, args ...interface{}) []Value {
	t.Helper()
	vs, err := NewValues(args...)
	if err != nil {
		t.Fatalf("NewValues: %v", err)
	}
	return vs
}

var errBrokenPipe = errors.New("broken pipe")

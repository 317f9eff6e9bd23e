package orbital

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/richinsley/orbital/internal/testutil/testlog"
)

// collector records the events a Pipe delivers.
type collector struct {
	opened chan struct{}
	ended  chan struct{}

	mu   sync.Mutex
	data []byte
	errs []error
	more chan struct{}
}

func newCollector() *collector {
	return &collector{
		opened: make(chan struct{}),
		ended:  make(chan struct{}),
		more:   make(chan struct{}, 1),
	}
}

func (c *collector) HandleOpen() { close(c.opened) }

func (c *collector) HandleData(p []byte) {
	c.mu.Lock()
	c.data = append(c.data, p...)
	c.mu.Unlock()
	select {
	case c.more <- struct{}{}:
	default:
	}
}

func (c *collector) HandleEnd() { close(c.ended) }

func (c *collector) HandleError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// waitFor blocks until at least n bytes arrived.
func (c *collector) waitFor(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.data) >= n {
			out := append([]byte(nil), c.data...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.more:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d bytes", n)
		}
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestStreamPipeDuplex(t *testing.T) {
	a, b := net.Pipe()
	log := testlog.Start(t)
	left := NewStreamPipe("left", RoleServer, a, WithPipeLogger(log))
	right := NewStreamPipe("right", RoleClient, b, WithPipeLogger(log))
	defer left.Close()
	defer right.Close()

	lc, rc := newCollector(), newCollector()
	left.Subscribe(lc)
	right.Subscribe(rc)
	waitClosed(t, lc.opened, "left open")
	waitClosed(t, rc.opened, "right open")

	go left.Write([]byte("ping"))
	if got := rc.waitFor(t, 4); string(got) != "ping" {
		t.Fatalf("Expected %q, got %q", "ping", got)
	}
	go right.Write([]byte("pong"))
	if got := lc.waitFor(t, 4); string(got) != "pong" {
		t.Fatalf("Expected %q, got %q", "pong", got)
	}
}

func TestPipeCloseEndsStream(t *testing.T) {
	a, b := net.Pipe()
	left := NewStreamPipe("left", RoleServer, a)
	right := NewStreamPipe("right", RoleClient, b)
	defer right.Close()

	lc, rc := newCollector(), newCollector()
	left.Subscribe(lc)
	right.Subscribe(rc)

	if err := left.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := left.Close(); err != nil {
		t.Fatalf("Second Close: %v", err)
	}
	waitClosed(t, lc.ended, "local end")
	waitClosed(t, rc.ended, "peer end")

	if err := left.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

func TestSubscribeAfterCloseReplaysEnd(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	p := NewStreamPipe("late", RoleServer, a)
	p.Close()

	c := newCollector()
	p.Subscribe(c)
	waitClosed(t, c.ended, "replayed end")
}

func TestSplitPipeOverOSPipes(t *testing.T) {
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	left := NewSplitPipe("left", RoleServer, r1, w2)
	right := NewSplitPipe("right", RoleClient, r2, w1)
	defer left.Close()
	defer right.Close()

	rc := newCollector()
	right.Subscribe(rc)
	for _, chunk := range []string{"one ", "two ", "three"} {
		if err := left.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := rc.waitFor(t, 13); string(got) != "one two three" {
		t.Fatalf("Unexpected data %q", got)
	}
}

// failingWriter accepts nothing.
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errBrokenPipe }
func (failingWriter) Close() error { return nil }

func TestPipeWriteFailureCloses(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewSplitPipe("broken", RoleClient, r, failingWriter{})

	c := newCollector()
	p.Subscribe(c)
	if err := p.Write([]byte("x")); !errors.Is(err, errBrokenPipe) {
		t.Fatalf("Expected the write error, got %v", err)
	}
	waitClosed(t, p.Done(), "close after failed write")
	waitClosed(t, c.ended, "end after failed write")
}

func TestProtocolsOverStreamPipe(t *testing.T) {
	a, b := net.Pipe()
	log := testlog.Start(t)
	host := NewProtocol(WithLogger(log), WithExit(func(int) {}))
	worker := NewProtocol(WithLogger(log), WithExit(func(int) {}))
	worker.RegisterFunc("echo", echoHandler)

	if err := host.Start(NewStreamPipe("host", RoleServer, a)); err != nil {
		t.Fatalf("Start host: %v", err)
	}
	if err := worker.Start(NewStreamPipe("worker", RoleClient, b)); err != nil {
		t.Fatalf("Start worker: %v", err)
	}
	defer host.Close()
	defer worker.Close()

	for _, msg := range []string{"hi", "there"} {
		fut, err := host.Call("echo", msg)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		select {
		case <-fut.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for echo")
		}
		var got string
		if err := fut.Values()[0].Decode(&got); err != nil || got != msg {
			t.Fatalf("Expected %q, got %q (%v)", msg, got, err)
		}
	}
	if host.Pending() != 0 {
		t.Fatalf("Expected no pending calls, got %d", host.Pending())
	}
}

func TestProtocolCloseExitsAfterEndOfStream(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	var mu sync.Mutex
	var ended bool
	var exits []int
	var endedAtExit []bool

	obs := HandlerFuncs{OnEnd: func() {
		mu.Lock()
		ended = true
		mu.Unlock()
	}}
	p := NewProtocol(
		WithLogger(testlog.Start(t)),
		WithObserver(obs),
		WithExit(func(code int) {
			mu.Lock()
			exits = append(exits, code)
			endedAtExit = append(endedAtExit, ended)
			mu.Unlock()
		}),
	)
	if err := p.Start(NewStreamPipe("close", RoleServer, a)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(exits) != 1 || exits[0] != 0 {
		t.Fatalf("Expected a single exit status 0, got %v", exits)
	}
	if !endedAtExit[0] {
		t.Fatal("Expected the observer to see the end of stream before exit")
	}
}

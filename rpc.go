package orbital

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EndpointHandler serves inbound calls registered under a name.
type EndpointHandler interface {
	ServeCall(ctx context.Context, args []Value) (interface{}, error)
}

// EndpointFunc adapts a function to EndpointHandler.
type EndpointFunc func(ctx context.Context, args []Value) (interface{}, error)

func (f EndpointFunc) ServeCall(ctx context.Context, args []Value) (interface{}, error) {
	return f(ctx, args)
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Protocol) { p.log = l.With().Str("component", "rpc").Logger() }
}

// WithExit replaces the function called on fatal transport failure (status 1)
// and on Close (status 0). Defaults to os.Exit.
func WithExit(exit func(code int)) Option {
	return func(p *Protocol) { p.exit = exit }
}

// WithObserver forwards the transport events seen by the protocol to h.
func WithObserver(h Handler) Option {
	return func(p *Protocol) { p.observer = h }
}

// WithDispatchHook installs a hook around every inbound call.
func WithDispatchHook(h DispatchHook) Option {
	return func(p *Protocol) { p.hook = h }
}

// WithBufferPool sets the pool packet encode buffers are taken from.
func WithBufferPool(bp *BufferPool) Option {
	return func(p *Protocol) { p.pool = bp }
}

// Protocol runs framed calls and responses over a Transport.
//
// Inbound packets are dispatched one at a time on the transport's read
// goroutine, so a slow handler delays every later packet. Outbound calls may be
// issued from any goroutine.
//
// A transport failure is fatal: it is logged and the exit function is called
// with status 1. Nothing is processed afterwards.
type Protocol struct {
	log      zerolog.Logger
	exit     func(code int)
	observer Handler
	hook     DispatchHook
	pool     *BufferPool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	t         Transport
	endpoints map[string]EndpointHandler
	pending   map[uint32]func([]Value)
	seq       uint32
	dead      bool

	ended    chan struct{}
	endOnce  sync.Once
	exitOnce sync.Once

	// owned by the dispatch goroutine
	rx        Reassembler
	stalled   bool
	discarded int
}

// NewProtocol returns a Protocol that is not yet attached to a transport.
func NewProtocol(opts ...Option) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		log:       log.Logger.With().Str("component", "rpc").Logger(),
		exit:      os.Exit,
		ctx:       ctx,
		cancel:    cancel,
		endpoints: make(map[string]EndpointHandler),
		pending:   make(map[uint32]func([]Value)),
		ended:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pool == nil {
		p.pool = NewBufferPool(DefaultPacketBufferSize, 16)
	}
	return p
}

// Start attaches the protocol to t and begins receiving.
func (p *Protocol) Start(t Transport) error {
	p.mu.Lock()
	if p.t != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	if p.dead {
		p.mu.Unlock()
		return ErrClosed
	}
	p.t = t
	p.log = p.log.With().Str("pipe", t.Name()).Logger()
	p.mu.Unlock()

	p.log.Debug().Msg("protocol started")
	t.Subscribe(protocolEvents{p})
	return nil
}

func (p *Protocol) started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t != nil
}

// Name returns the transport name, or "" before Start.
func (p *Protocol) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t == nil {
		return ""
	}
	return p.t.Name()
}

// SetDispatchHook installs h around every inbound call, replacing any earlier
// hook. A nil h removes it.
func (p *Protocol) SetDispatchHook(h DispatchHook) {
	p.mu.Lock()
	p.hook = h
	p.mu.Unlock()
}

// Register installs h under name, replacing any earlier registration.
func (p *Protocol) Register(name string, h EndpointHandler) {
	p.mu.Lock()
	p.endpoints[name] = h
	p.mu.Unlock()
}

// RegisterFunc installs fn under name.
func (p *Protocol) RegisterFunc(name string, fn func(ctx context.Context, args []Value) (interface{}, error)) {
	p.Register(name, EndpointFunc(fn))
}

// Notify sends a fire-and-forget call. No response is expected.
func (p *Protocol) Notify(endpoint string, args ...interface{}) error {
	values, err := NewValues(args...)
	if err != nil {
		return err
	}
	if _, err := p.transport(); err != nil {
		return err
	}
	return p.send(Packet{IsCall: true, Endpoint: endpoint, Values: values})
}

// CallFunc sends a correlated call. cb runs exactly once, on the dispatch
// goroutine, when the response arrives. There is no timeout: if the peer never
// answers cb never runs.
func (p *Protocol) CallFunc(endpoint string, cb func([]Value), args ...interface{}) error {
	values, err := NewValues(args...)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.t == nil {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.dead {
		p.mu.Unlock()
		return ErrClosed
	}
	seq := p.nextSeq()
	p.pending[seq] = cb
	p.mu.Unlock()

	if err := p.send(Packet{IsCall: true, SeqID: seq, Endpoint: endpoint, Values: values}); err != nil {
		p.mu.Lock()
		delete(p.pending, seq)
		p.mu.Unlock()
		return err
	}
	return nil
}

// Call sends a correlated call and returns a Future for its response.
func (p *Protocol) Call(endpoint string, args ...interface{}) (*Future, error) {
	f := &Future{done: make(chan struct{}), closed: p.ctx.Done()}
	if err := p.CallFunc(endpoint, f.resolve, args...); err != nil {
		return nil, err
	}
	return f, nil
}

// Pending returns the number of correlated calls still waiting for a response.
func (p *Protocol) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// CloseGrace bounds how long Close waits for the transport to report the end
// of the stream before exiting anyway.
var CloseGrace = 2 * time.Second

// Close ends the stream and, once the transport has emitted end-of-stream,
// calls the exit function with status 0. Called from a handler, the end event
// cannot be delivered until the handler returns, so the exit follows after
// CloseGrace.
func (p *Protocol) Close() error {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return nil
	}
	p.dead = true
	t := p.t
	p.mu.Unlock()

	p.log.Info().Msg("closing")
	p.cancel()
	var err error
	if t != nil {
		err = t.Close()
		timer := time.NewTimer(CloseGrace)
		select {
		case <-p.ended:
		case <-timer.C:
			p.log.Warn().Dur("grace", CloseGrace).Msg("no end of stream after close")
		}
		timer.Stop()
	}
	p.exitWith(0)
	return err
}

func (p *Protocol) exitWith(code int) {
	p.exitOnce.Do(func() { p.exit(code) })
}

// nextSeq returns the next sequence id, skipping 0 and ids still pending.
// p.mu must be held.
func (p *Protocol) nextSeq() uint32 {
	for {
		p.seq++
		if p.seq == 0 {
			continue
		}
		if _, busy := p.pending[p.seq]; !busy {
			return p.seq
		}
	}
}

func (p *Protocol) transport() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t == nil {
		return nil, ErrNotStarted
	}
	if p.dead {
		return nil, ErrClosed
	}
	return p.t, nil
}

// send frames pkt and writes it. A write failure is fatal.
func (p *Protocol) send(pkt Packet) error {
	t, err := p.transport()
	if err != nil {
		return err
	}
	buf, err := AppendFrame(p.pool.Get(), pkt)
	if err != nil {
		return err
	}
	err = t.Write(buf)
	p.pool.Put(buf)
	if err != nil {
		p.fatal(fmt.Errorf("write packet: %w", err))
		return err
	}
	return nil
}

// fatal logs err and calls the exit function with status 1. Only the first
// fatal event or Close has an effect.
func (p *Protocol) fatal(err error) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return
	}
	p.dead = true
	p.mu.Unlock()

	p.log.Error().Err(err).Msg("transport failed")
	p.cancel()
	p.exitWith(1)
}

func (p *Protocol) isDead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}

// receive feeds a chunk to the reassembler and dispatches every complete
// packet.
func (p *Protocol) receive(chunk []byte) {
	if p.isDead() {
		return
	}
	p.rx.Write(chunk)
	for {
		payload, ok, err := p.rx.Next()
		if d := p.rx.Discarded(); d != p.discarded {
			p.log.Warn().Int("bytes", d-p.discarded).Msg("discarded bytes ahead of frame")
			p.discarded = d
		}
		if err != nil {
			if !p.stalled {
				p.stalled = true
				p.log.Error().Err(err).Int("buffered", p.rx.Buffered()).Msg("inbound stream stalled")
			}
			return
		}
		if !ok {
			return
		}
		pkt, err := DecodePayload(payload)
		if err != nil {
			p.log.Warn().Err(err).Msg("dropping undecodable packet")
			continue
		}
		p.dispatch(pkt)
		if p.isDead() {
			return
		}
	}
}

func (p *Protocol) dispatch(pkt Packet) {
	if pkt.IsCall {
		p.serve(pkt)
		return
	}
	p.resolve(pkt)
}

// serve runs the handler for an inbound call and answers correlated calls. A
// failing handler is answered with an empty response.
func (p *Protocol) serve(pkt Packet) {
	p.mu.Lock()
	h := p.endpoints[pkt.Endpoint]
	hook := p.hook
	name := ""
	if p.t != nil {
		name = p.t.Name()
	}
	p.mu.Unlock()

	if h == nil {
		p.log.Warn().Err(ErrUnknownEndpoint).Str("endpoint", pkt.Endpoint).Uint32("seq", pkt.SeqID).Msg("dropping call")
		return
	}

	info := DispatchInfo{
		Endpoint:   pkt.Endpoint,
		SeqID:      pkt.SeqID,
		Correlated: pkt.SeqID != 0,
		Args:       len(pkt.Values),
		ArgBytes:   argBytes(pkt.Values),
		Transport:  name,
	}
	ctx, token := p.hookStart(p.ctx, hook, info)
	result, err := p.invoke(ctx, h, pkt)

	var values []Value
	if err == nil && pkt.SeqID != 0 {
		values, err = resultValues(result)
		if err != nil {
			err = &HandlerError{Endpoint: pkt.Endpoint, SeqID: pkt.SeqID, Err: err}
		}
	}
	p.hookEnd(ctx, hook, token, info, err)

	if err != nil {
		p.log.Error().Err(err).Str("endpoint", pkt.Endpoint).Uint32("seq", pkt.SeqID).Msg("handler failed")
		values = nil
	}
	if pkt.SeqID == 0 {
		return
	}
	p.send(Packet{SeqID: pkt.SeqID, Values: values})
}

func (p *Protocol) invoke(ctx context.Context, h EndpointHandler, pkt Packet) (result interface{}, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			result = nil
			err = newPanicError(pkt.Endpoint, pkt.SeqID, rv)
		}
	}()
	result, err = h.ServeCall(ctx, pkt.Values)
	if err != nil {
		err = &HandlerError{Endpoint: pkt.Endpoint, SeqID: pkt.SeqID, Err: err}
	}
	return result, err
}

// resultValues turns a handler result into response values. A []Value is sent
// as is; anything else becomes a single value.
func resultValues(result interface{}) ([]Value, error) {
	if vs, ok := result.([]Value); ok {
		return vs, nil
	}
	v, err := NewValue(result)
	if err != nil {
		return nil, err
	}
	return []Value{v}, nil
}

func (p *Protocol) resolve(pkt Packet) {
	p.mu.Lock()
	cb, ok := p.pending[pkt.SeqID]
	if ok {
		delete(p.pending, pkt.SeqID)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn().Uint32("seq", pkt.SeqID).Msg("dropping response with no pending call")
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			p.log.Error().Interface("panic", rv).Uint32("seq", pkt.SeqID).Msg("response callback panicked")
		}
	}()
	cb(pkt.Values)
}

func (p *Protocol) hookStart(ctx context.Context, hook DispatchHook, info DispatchInfo) (outCtx context.Context, token HookToken) {
	if hook == nil {
		return ctx, nil
	}
	outCtx = ctx
	defer func() {
		if rv := recover(); rv != nil {
			p.log.Error().Interface("panic", rv).Str("endpoint", info.Endpoint).Msg("dispatch hook panicked")
		}
	}()
	return hook.OnDispatchStart(ctx, info)
}

func (p *Protocol) hookEnd(ctx context.Context, hook DispatchHook, token HookToken, info DispatchInfo, err error) {
	if hook == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			p.log.Error().Interface("panic", rv).Str("endpoint", info.Endpoint).Msg("dispatch hook panicked")
		}
	}()
	hook.OnDispatchEnd(ctx, token, info, err)
}

// protocolEvents receives transport events on behalf of a Protocol.
type protocolEvents struct {
	p *Protocol
}

func (e protocolEvents) HandleOpen() {
	e.p.log.Debug().Msg("transport open")
	if e.p.observer != nil {
		e.p.observer.HandleOpen()
	}
}

func (e protocolEvents) HandleData(b []byte) {
	if e.p.observer != nil {
		e.p.observer.HandleData(b)
	}
	e.p.receive(b)
}

func (e protocolEvents) HandleEnd() {
	if e.p.observer != nil {
		e.p.observer.HandleEnd()
	}
	e.p.endOnce.Do(func() { close(e.p.ended) })
	e.p.fatal(errors.New("stream ended"))
}

func (e protocolEvents) HandleError(err error) {
	if e.p.observer != nil {
		e.p.observer.HandleError(err)
	}
	e.p.fatal(err)
}

// Future is the pending result of a correlated call.
type Future struct {
	done   chan struct{}
	closed <-chan struct{}
	values []Value
}

func (f *Future) resolve(values []Value) {
	f.values = values
	close(f.done)
}

// Done is closed when the response has arrived.
func (f *Future) Done() <-chan struct{} { return f.done }

// Values returns the response values, or nil if the response has not arrived.
func (f *Future) Values() []Value {
	select {
	case <-f.done:
		return f.values
	default:
		return nil
	}
}

// Wait blocks until the response arrives, ctx is done, or the protocol is shut
// down. Giving up does not withdraw the call: a late response is still
// consumed.
func (f *Future) Wait(ctx context.Context) ([]Value, error) {
	select {
	case <-f.done:
		return f.values, nil
	default:
	}
	select {
	case <-f.done:
		return f.values, nil
	case <-f.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package orbital

// Serializer defines the interface for message encoding and decoding.
// Implementations convert between Go values and byte slices carried as BINARY
// values. MsgpackSerializer is the compact default; JSONSerializer and
// NewZstdSerializer are also provided.
type Serializer interface {
	// Marshal encodes a Go value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes bytes into a Go value.
	Unmarshal(data []byte, v interface{}) error
}

// Handler receives the lifecycle notifications of a Transport.
//
// All methods are invoked from the transport's read goroutine, one at a time.
// The slice passed to HandleData aliases the transport's scratch buffer and is
// only valid until HandleData returns.
type Handler interface {
	// HandleOpen is called once both directions of the channel are usable.
	HandleOpen()

	// HandleData is called for every chunk read from the peer. Chunk
	// boundaries carry no meaning.
	HandleData(p []byte)

	// HandleEnd is called exactly once when the stream ends, whether by Close,
	// by the peer, or after a failure.
	HandleEnd()

	// HandleError reports a terminal transport failure. HandleEnd follows.
	HandleError(err error)
}

// HandlerFuncs adapts optional functions to the Handler interface. Nil fields
// are ignored.
type HandlerFuncs struct {
	OnOpen  func()
	OnData  func(p []byte)
	OnEnd   func()
	OnError func(err error)
}

func (h HandlerFuncs) HandleOpen() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h HandlerFuncs) HandleData(p []byte) {
	if h.OnData != nil {
		h.OnData(p)
	}
}

func (h HandlerFuncs) HandleEnd() {
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

func (h HandlerFuncs) HandleError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Transport defines the duplex byte stream a Protocol runs on.
// The default implementation is *Pipe.
type Transport interface {
	// Name returns the channel identity handed to the peer process.
	Name() string

	// Subscribe attaches the handler and starts inbound delivery. Events that
	// happened before the call are replayed to h.
	Subscribe(h Handler)

	// Write transmits p in call order. Bytes written before the channel is
	// connected are queued and flushed on connect.
	Write(p []byte) error

	// Close releases transport resources and ends the stream, which the
	// subscribed handler sees as HandleEnd. Only the first call has an effect.
	Close() error
}

package orbital

// DefaultPacketBufferSize is the capacity of pooled packet encode buffers.
// Packets that outgrow it are encoded into a fresh allocation and never pooled.
const DefaultPacketBufferSize = 8192

// BufferPool manages a pool of reusable byte slices used to assemble outbound
// packets. It uses a channel-based design for thread-safe access without locks.
//
// BufferPool is safe for concurrent use by multiple goroutines.
type BufferPool struct {
	pool    chan []byte
	bufSize int
}

// NewBufferPool creates a pool pre-populated with count buffers of bufSize
// capacity.
func NewBufferPool(bufSize, count int) *BufferPool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, 0, bufSize)
	}
	return &BufferPool{
		pool:    pool,
		bufSize: bufSize,
	}
}

// Get returns an empty buffer with capacity bufSize, allocating one if the pool
// is drained.
func (bp *BufferPool) Get() []byte {
	select {
	case buf := <-bp.pool:
		return buf[:0]
	default:
		return make([]byte, 0, bp.bufSize)
	}
}

// Put returns a buffer to the pool for reuse.
// Buffers that grew past bufSize are discarded, as is anything offered to a
// full pool.
func (bp *BufferPool) Put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}

	select {
	case bp.pool <- buf[:0]:
	default:
	}
}

// Size returns the capacity of the buffers managed by the pool.
func (bp *BufferPool) Size() int {
	return bp.bufSize
}

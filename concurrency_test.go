package orbital

import (
	"sync"
	"testing"
)

// TestBufferPoolConcurrent tests that BufferPool is safe for concurrent access.
func TestBufferPoolConcurrent(t *testing.T) {
	pool := NewBufferPool(1024, 10)

	var wg sync.WaitGroup
	numGoroutines := 100
	numOps := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				buf := pool.Get()
				if len(buf) != 0 || cap(buf) != 1024 {
					t.Errorf("Expected empty buffer with capacity 1024, got len=%d cap=%d", len(buf), cap(buf))
				}
				buf = append(buf, byte(j))
				pool.Put(buf)
			}
		}()
	}

	wg.Wait()
}

// TestBufferPoolGrownBufferDiscarded tests that buffers which were reallocated
// by append are not returned to the pool.
func TestBufferPoolGrownBufferDiscarded(t *testing.T) {
	pool := NewBufferPool(16, 1)

	buf := pool.Get()
	buf = append(buf, make([]byte, 64)...)
	pool.Put(buf)

	got := pool.Get()
	if cap(got) != 16 {
		t.Fatalf("Expected pooled capacity 16, got %d", cap(got))
	}

	// Pool is now empty: the next Get must allocate.
	fresh := pool.Get()
	if cap(fresh) != 16 {
		t.Fatalf("Expected new buffer with capacity 16, got %d", cap(fresh))
	}
}

// TestConcurrentCallsDoNotInterleave issues correlated calls from many
// goroutines and checks every frame on the wire decodes intact.
func TestConcurrentCallsDoNotInterleave(t *testing.T) {
	tr := newMemTransport("mem")
	p := newTestProtocol(t, tr)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := p.Call("work", i, j); err != nil {
					t.Errorf("Call: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	packets := decodeAll(t, tr.written())
	if len(packets) != 32*20 {
		t.Fatalf("Expected %d packets, got %d", 32*20, len(packets))
	}
	seen := make(map[uint32]bool)
	for _, pkt := range packets {
		if !pkt.IsCall || pkt.Endpoint != "work" || len(pkt.Values) != 2 {
			t.Fatalf("Malformed packet on the wire: %+v", pkt)
		}
		if seen[pkt.SeqID] {
			t.Fatalf("Sequence id %d reused while outstanding", pkt.SeqID)
		}
		seen[pkt.SeqID] = true
	}
	if p.Pending() != 32*20 {
		t.Fatalf("Expected %d pending calls, got %d", 32*20, p.Pending())
	}
}

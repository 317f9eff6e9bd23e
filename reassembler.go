package orbital

import (
	"bytes"
	"errors"
	"strconv"
)

// frameWindow bounds the scan for a frame prefix at the head of the receive
// buffer: sync byte, up to 8 hex digits, newline.
const frameWindow = 10

// ErrMalformedFrame reports a receive buffer whose head is not a valid frame
// prefix. The stream cannot recover from it.
var ErrMalformedFrame = errors.New("orbital: malformed frame prefix")

// Reassembler turns an arbitrarily chunked byte stream back into frame
// payloads. It is not safe for concurrent use.
type Reassembler struct {
	buf       []byte
	discarded int
}

// Write appends a chunk to the receive buffer. p is copied.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Next extracts the next complete payload. ok is false when more data is
// needed. A non-nil error means the buffer head will never parse; the buffer
// is left as is and every later call reports the same error.
func (r *Reassembler) Next() (payload []byte, ok bool, err error) {
	window := r.window()
	s := bytes.IndexByte(window, SyncByte)
	if s < 0 {
		if len(window) == frameWindow {
			return nil, false, ErrMalformedFrame
		}
		return nil, false, nil
	}
	if s > 0 {
		r.discarded += s
		r.buf = r.buf[s:]
		window = r.window()
	}

	i := 1
	for i < len(window) && isHexDigit(window[i]) {
		i++
	}
	if i == len(window) {
		if len(window) == frameWindow {
			return nil, false, ErrMalformedFrame
		}
		return nil, false, nil
	}
	if i == 1 || window[i] != '\n' {
		return nil, false, ErrMalformedFrame
	}

	n, perr := strconv.ParseUint(string(window[1:i]), 16, 64)
	if perr != nil {
		return nil, false, ErrMalformedFrame
	}
	start := i + 1
	if uint64(len(r.buf)-start) < n {
		return nil, false, nil
	}
	end := start + int(n)
	payload = append([]byte{}, r.buf[start:end]...)
	r.buf = r.buf[end:]
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return payload, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Discarded returns how many stray bytes ahead of a sync byte were dropped.
func (r *Reassembler) Discarded() int {
	return r.discarded
}

func (r *Reassembler) window() []byte {
	if len(r.buf) > frameWindow {
		return r.buf[:frameWindow]
	}
	return r.buf
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

package orbital

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

const (
	// SyncByte opens every frame on the wire.
	SyncByte byte = 0xFF

	// MaxPayloadLen is the largest payload whose hex length still fits the
	// 10 byte frame prefix window (sync + 8 hex digits + newline).
	MaxPayloadLen = 0xFFFFFFFF

	flagCall     byte = 1 << 0
	flagEndpoint byte = 1 << 1

	// flags + seqId
	fixedPayloadLen = 5
)

// Packet is one protocol unit.
type Packet struct {
	// IsCall is set for calls and cleared for responses.
	IsCall bool

	// SeqID correlates a call with its response. Zero means no response is
	// expected.
	SeqID uint32

	// Endpoint names the handler to invoke. Empty means no endpoint is
	// encoded.
	Endpoint string

	// Values are the call arguments or the response results.
	Values []Value
}

// PayloadLen returns the encoded payload size in bytes.
func (p Packet) PayloadLen() int {
	n := fixedPayloadLen
	if p.Endpoint != "" {
		n += 4 + len(p.Endpoint)
	}
	for _, v := range p.Values {
		n++
		if v.kind != KindNull {
			n += 4 + len(v.data)
		}
	}
	return n
}

// AppendPayload appends the encoded payload of p to dst.
func AppendPayload(dst []byte, p Packet) []byte {
	var flags byte
	if p.IsCall {
		flags |= flagCall
	}
	if p.Endpoint != "" {
		flags |= flagEndpoint
	}
	dst = append(dst, flags)
	dst = binary.BigEndian.AppendUint32(dst, p.SeqID)
	if p.Endpoint != "" {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(p.Endpoint)))
		dst = append(dst, p.Endpoint...)
	}
	for _, v := range p.Values {
		dst = append(dst, byte(v.kind))
		if v.kind == KindNull {
			continue
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.data)))
		dst = append(dst, v.data...)
	}
	return dst
}

// AppendFrame appends the complete wire frame of p (sync byte, lowercase hex
// payload length, newline, payload) to dst.
func AppendFrame(dst []byte, p Packet) ([]byte, error) {
	n := p.PayloadLen()
	if uint64(n) > MaxPayloadLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	dst = append(dst, SyncByte)
	dst = strconv.AppendUint(dst, uint64(n), 16)
	dst = append(dst, '\n')
	return AppendPayload(dst, p), nil
}

// DecodePayload decodes one payload. Values alias b.
//
// Unknown value tags are skipped one byte at a time.
func DecodePayload(b []byte) (Packet, error) {
	if len(b) < fixedPayloadLen {
		return Packet{}, fmt.Errorf("%w: %d byte header", ErrTruncated, len(b))
	}
	flags := b[0]
	pkt := Packet{
		IsCall: flags&flagCall != 0,
		SeqID:  binary.BigEndian.Uint32(b[1:5]),
	}
	off := fixedPayloadLen

	if flags&flagEndpoint != 0 {
		if len(b) < off+4 {
			return Packet{}, fmt.Errorf("%w: endpoint length", ErrTruncated)
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if n < 0 || len(b)-off < n {
			return Packet{}, fmt.Errorf("%w: endpoint of %d bytes", ErrTruncated, n)
		}
		pkt.Endpoint = string(b[off : off+n])
		off += n
	}

	for off < len(b) {
		tag := Kind(b[off])
		off++
		switch tag {
		case KindNull:
			pkt.Values = append(pkt.Values, Null())
		case KindJSON, KindBinary:
			if len(b) < off+4 {
				return Packet{}, fmt.Errorf("%w: %s value length", ErrTruncated, tag)
			}
			n := int(binary.BigEndian.Uint32(b[off : off+4]))
			off += 4
			if n < 0 || len(b)-off < n {
				return Packet{}, fmt.Errorf("%w: %s value of %d bytes", ErrTruncated, tag, n)
			}
			pkt.Values = append(pkt.Values, Value{kind: tag, data: b[off : off+n : off+n]})
			off += n
		}
	}
	return pkt, nil
}

package orbital

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  Packet
	}{
		{"fire and forget call", Packet{IsCall: true, Endpoint: "log", Values: []Value{JSON([]byte(`{"msg":"x"}`))}}},
		{"correlated call", Packet{IsCall: true, SeqID: 7, Endpoint: "echo", Values: []Value{JSON([]byte(`"hi"`))}}},
		{"response", Packet{SeqID: 7, Values: []Value{JSON([]byte(`"hi"`))}}},
		{"empty response", Packet{SeqID: 42}},
		{"all tags", Packet{IsCall: true, SeqID: 1, Endpoint: "mix", Values: []Value{
			Null(),
			JSON([]byte(`[1,2,3]`)),
			Binary([]byte{0x00, 0xFF, 0x0A}),
			Binary(nil),
		}}},
		{"max seq", Packet{SeqID: 0xFFFFFFFF, Values: []Value{Null()}}},
		{"utf-8 endpoint", Packet{IsCall: true, SeqID: 3, Endpoint: "größe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := AppendPayload(nil, tc.pkt)
			if len(payload) != tc.pkt.PayloadLen() {
				t.Fatalf("PayloadLen %d, encoded %d", tc.pkt.PayloadLen(), len(payload))
			}
			got, err := DecodePayload(payload)
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if got.IsCall != tc.pkt.IsCall || got.SeqID != tc.pkt.SeqID || got.Endpoint != tc.pkt.Endpoint {
				t.Fatalf("Header mismatch: got %+v, want %+v", got, tc.pkt)
			}
			if len(got.Values) != len(tc.pkt.Values) {
				t.Fatalf("Expected %d values, got %d", len(tc.pkt.Values), len(got.Values))
			}
			for i := range got.Values {
				if !got.Values[i].Equal(tc.pkt.Values[i]) {
					t.Errorf("Value %d: got %v, want %v", i, got.Values[i], tc.pkt.Values[i])
				}
			}
		})
	}
}

func TestPayloadLayout(t *testing.T) {
	pkt := Packet{IsCall: true, SeqID: 0x01020304, Endpoint: "ab", Values: []Value{Null(), JSON([]byte("1"))}}
	want := []byte{
		0x03,
		0x01, 0x02, 0x03, 0x04,
		0x00, 0x00, 0x00, 0x02, 'a', 'b',
		0x00,
		0x01, 0x00, 0x00, 0x00, 0x01, '1',
	}
	got := AppendPayload(nil, pkt)
	if !bytes.Equal(got, want) {
		t.Fatalf("Payload mismatch:\n got %x\nwant %x", got, want)
	}
}

func TestFramePrefix(t *testing.T) {
	pkt := Packet{SeqID: 1, Values: []Value{Binary(make([]byte, 300))}}
	b, err := AppendFrame(nil, pkt)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	// 5 byte header + 1 tag + 4 length + 300 body = 310 = 0x136
	if !bytes.HasPrefix(b, []byte("\xff136\n")) {
		t.Fatalf("Unexpected prefix %q", b[:6])
	}
	if len(b) != 5+310 {
		t.Fatalf("Expected frame of %d bytes, got %d", 5+310, len(b))
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := AppendPayload(nil, Packet{IsCall: true, SeqID: 9, Endpoint: "echo", Values: []Value{JSON([]byte(`"hi"`))}})
	for _, n := range []int{0, 3, 7, 12, len(full) - 1} {
		if _, err := DecodePayload(full[:n]); !errors.Is(err, ErrTruncated) {
			t.Errorf("Prefix of %d bytes: expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestDecodeSkipsUnknownTag(t *testing.T) {
	payload := AppendPayload(nil, Packet{SeqID: 5})
	payload = append(payload, 0x09)
	payload = append(payload, byte(KindNull))

	pkt, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(pkt.Values) != 1 || !pkt.Values[0].IsNull() {
		t.Fatalf("Expected a single NULL value, got %v", pkt.Values)
	}
}

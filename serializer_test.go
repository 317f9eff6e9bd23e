package orbital

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string
	Count int
	Tags  []string
	Blob  []byte
}

func TestSerializersRoundTrip(t *testing.T) {
	zs, err := NewZstdSerializer(nil)
	if err != nil {
		t.Fatalf("NewZstdSerializer: %v", err)
	}
	defer zs.Close()
	zj, err := NewZstdSerializer(JSONSerializer{})
	if err != nil {
		t.Fatalf("NewZstdSerializer: %v", err)
	}
	defer zj.Close()

	serializers := map[string]Serializer{
		"msgpack":      MsgpackSerializer{},
		"json":         JSONSerializer{},
		"zstd+msgpack": zs,
		"zstd+json":    zj,
	}
	in := sample{Name: "frame", Count: 3, Tags: []string{"a", "b"}, Blob: []byte{0, 1, 2}}

	for name, s := range serializers {
		t.Run(name, func(t *testing.T) {
			v, err := BinaryValue(s, in)
			if err != nil {
				t.Fatalf("BinaryValue: %v", err)
			}
			if v.Kind() != KindBinary {
				t.Fatalf("Expected a binary value, got %s", v.Kind())
			}

			// Carry it through a packet to make sure nothing depends on the
			// original backing array.
			pkt, err := DecodePayload(AppendPayload(nil, Packet{SeqID: 1, Values: []Value{v}}))
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			var out sample
			if err := pkt.Values[0].DecodeWith(s, &out); err != nil {
				t.Fatalf("DecodeWith: %v", err)
			}
			if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 || !bytes.Equal(out.Blob, in.Blob) {
				t.Fatalf("Round trip mismatch: %+v", out)
			}
		})
	}
}

func TestZstdShrinksRepetitiveData(t *testing.T) {
	zs, err := NewZstdSerializer(MsgpackSerializer{})
	if err != nil {
		t.Fatal(err)
	}
	defer zs.Close()

	data := bytes.Repeat([]byte("orbital "), 4096)
	packed, err := zs.Marshal(data)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(packed) >= len(data)/10 {
		t.Fatalf("Expected strong compression, got %d bytes from %d", len(packed), len(data))
	}
}

func TestDecodeWithRejectsJSON(t *testing.T) {
	var out sample
	if err := JSON([]byte(`{}`)).DecodeWith(MsgpackSerializer{}, &out); err == nil {
		t.Fatal("Expected DecodeWith to refuse a JSON value")
	}
}

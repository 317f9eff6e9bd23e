package orbital

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackSerializer encodes with MessagePack.
type MsgpackSerializer struct{}

func (ms MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (ms MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// JSONSerializer encodes with encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// ZstdSerializer compresses the output of another serializer with zstd.
// It is safe for concurrent use.
type ZstdSerializer struct {
	inner Serializer
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstdSerializer wraps inner. A nil inner selects MsgpackSerializer.
func NewZstdSerializer(inner Serializer) (*ZstdSerializer, error) {
	if inner == nil {
		inner = MsgpackSerializer{}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("orbital: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("orbital: zstd decoder: %w", err)
	}
	return &ZstdSerializer{inner: inner, enc: enc, dec: dec}, nil
}

func (z *ZstdSerializer) Marshal(v interface{}) ([]byte, error) {
	raw, err := z.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func (z *ZstdSerializer) Unmarshal(data []byte, v interface{}) error {
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("orbital: zstd decode: %w", err)
	}
	return z.inner.Unmarshal(raw, v)
}

// Close releases the encoder and decoder.
func (z *ZstdSerializer) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

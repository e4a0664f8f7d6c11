package raftlog

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
)

// ContentMarshal converts entry payloads to and from their stored form.
// Implementations must be safe for concurrent use.
type ContentMarshal[T any] interface {
	Marshal(content T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// BytesMarshal stores raw byte payloads unchanged.
type BytesMarshal struct{}

// Marshal returns content as is.
func (BytesMarshal) Marshal(content []byte) ([]byte, error) { return content, nil }

// Unmarshal returns a copy of data so callers may keep it.
func (BytesMarshal) Unmarshal(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// ProtoMarshal stores protobuf messages in their binary wire form.
type ProtoMarshal[M proto.Message] struct {
	// New returns an empty message to unmarshal into.
	New func() M
}

// Marshal encodes m deterministically.
func (p ProtoMarshal[M]) Marshal(m M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// Unmarshal decodes data into a fresh message.
func (p ProtoMarshal[M]) Unmarshal(data []byte) (M, error) {
	m := p.New()
	if err := proto.Unmarshal(data, m); err != nil {
		var zero M
		return zero, err
	}
	return m, nil
}

// ZstdMarshal compresses the output of another marshal.
type ZstdMarshal[T any] struct {
	inner ContentMarshal[T]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstdMarshal wraps inner with zstd compression. Close releases the codec.
func NewZstdMarshal[T any](inner ContentMarshal[T]) (*ZstdMarshal[T], error) {
	if inner == nil {
		return nil, ErrNilMarshal
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdMarshal[T]{inner: inner, enc: enc, dec: dec}, nil
}

// Marshal encodes content with the inner marshal and compresses the result.
func (z *ZstdMarshal[T]) Marshal(content T) ([]byte, error) {
	raw, err := z.inner.Marshal(content)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, nil), nil
}

// Unmarshal decompresses data and decodes it with the inner marshal.
func (z *ZstdMarshal[T]) Unmarshal(data []byte) (T, error) {
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("zstd decode: %w", err)
	}
	return z.inner.Unmarshal(raw)
}

// Close releases encoder and decoder resources.
func (z *ZstdMarshal[T]) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

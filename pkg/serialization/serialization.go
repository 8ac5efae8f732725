// Package serialization is the explicit boundary between typed values and the bytes
// the cache tiers store.
package serialization

import (
	"bytes"
	"fmt"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads values from a stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes values to a stream.
type Encoder interface {
	Encode(v any) error
}

// Codec converts values of type T to and from bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// For returns the codec registered under typ. An empty typ means JSON.
func For[T any](typ string) (Codec[T], error) {
	switch typ {
	case "", JSONType:
		return JSONCodec[T](), nil
	case GobType:
		return GobCodec[T](), nil
	default:
		return nil, fmt.Errorf("unsupported serialization type %q", typ)
	}
}

// streamCodec adapts a pair of stream constructors to Codec.
type streamCodec[T any] struct {
	newEncoder func(w *bytes.Buffer) Encoder
	newDecoder func(r *bytes.Reader) Decoder
}

func (c streamCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.newEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c streamCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := c.newDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

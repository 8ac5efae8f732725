package serialization

import (
	"bytes"
	"encoding/json"
	"io"
)

type Json struct {
	dec *json.Decoder
	enc *json.Encoder
}

func (j *Json) Decode(v any) error {
	return j.dec.Decode(v)
}

func (j *Json) Encode(v any) error {
	return j.enc.Encode(v)
}

func JsonDecoder(r io.Reader) Decoder {
	return &Json{dec: json.NewDecoder(r)}
}

// JsonEncoder writes compact JSON without HTML escaping or a trailing newline.
func JsonEncoder(w io.Writer) Encoder {
	enc := json.NewEncoder(&trimNewline{w: w})
	enc.SetEscapeHTML(false)
	return &Json{enc: enc}
}

// JSONCodec returns a JSON codec for T.
func JSONCodec[T any]() Codec[T] {
	return streamCodec[T]{
		newEncoder: func(w *bytes.Buffer) Encoder { return JsonEncoder(w) },
		newDecoder: func(r *bytes.Reader) Decoder { return JsonDecoder(r) },
	}
}

// trimNewline drops the newline json.Encoder appends to every value.
type trimNewline struct {
	w io.Writer
}

func (t *trimNewline) Write(p []byte) (int, error) {
	n := len(p)
	if _, err := t.w.Write(bytes.TrimSuffix(p, []byte("\n"))); err != nil {
		return 0, err
	}
	return n, nil
}

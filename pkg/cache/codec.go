package cache

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts entities to and from their cached byte form.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// JSONCodec encodes entities as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// MsgpackCodec encodes entities as MessagePack.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Marshal(v T) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(data, &v)
	return v, err
}

// CBORCodec encodes entities as CBOR with RFC3339Nano timestamps.
// The zero value is not usable; construct it with NewCBORCodec.
type CBORCodec[T any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec using the preferred unsorted encoding.
func NewCBORCodec[T any]() (CBORCodec[T], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBORCodec[T]{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBORCodec[T]{}, err
	}
	return CBORCodec[T]{enc: em, dec: dm}, nil
}

func (c CBORCodec[T]) Marshal(v T) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBORCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := c.dec.Unmarshal(data, &v)
	return v, err
}

package persistence

import (
	"bytes"
	"encoding/gob"
)

func init() {
	// Item metadata and step metrics carry these through interface values.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
}

// EncodeValue serializes v using encoding/gob. Any interface values inside v
// must hold types registered with gob.Register.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes gob data produced by EncodeValue into a T.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

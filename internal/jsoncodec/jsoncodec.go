// Package jsoncodec centralizes JSON encoding for eventflow. All payload and
// envelope (de)serialization goes through this package so the codec can be
// swapped in one place.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return codec.Valid(data)
}

func Encode(w io.Writer, v any) error {
	return codec.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return codec.NewDecoder(r).Decode(v)
}

// Package codec is the JSON codec shared by store documents and the proxy envelope.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
)

// numbers decode as json.Number so bodies round-trip through the store unchanged
var api = sonic.Config{
	UseNumber:        true,
	EscapeHTML:       false,
	SortMapKeys:      true,
	CompactMarshaler: true,
}.Froze()

// Marshal encodes v as compact JSON
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalString decodes s into v
func UnmarshalString(s string, v any) error {
	return api.UnmarshalFromString(s, v)
}

// Valid reports whether data is a single well-formed JSON value
func Valid(data []byte) bool {
	return api.Valid(data)
}

// Indent pretty-prints raw JSON with two-space indentation, keeping key order.
// Invalid input is returned unchanged.
func Indent(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// IndentValue encodes an already decoded value with two-space indentation
func IndentValue(v any) (string, error) {
	data, err := api.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

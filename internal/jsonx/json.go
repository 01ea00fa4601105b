// Package jsonx is the JSON codec used across the service.
//
// It uses sonic on amd64/arm64 and falls back to encoding/json elsewhere.
// The sonic configuration is ConfigStd so decoding behaves like encoding/json
// (including json.Unmarshaler support and error positions).
package jsonx

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

var (
	// Marshal encodes v into JSON bytes.
	Marshal func(v any) ([]byte, error)

	// Unmarshal decodes JSON bytes into v.
	Unmarshal func(data []byte, v any) error

	// NewEncoder creates a JSON encoder writing to w.
	NewEncoder func(w io.Writer) Encoder

	// Valid reports whether data is syntactically valid JSON.
	Valid func(data []byte) bool

	usingSonic bool
)

// Encoder is the subset of *json.Encoder the service needs.
type Encoder interface {
	Encode(v any) error
}

func init() {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		api := sonic.ConfigStd
		Marshal = api.Marshal
		Unmarshal = api.Unmarshal
		Valid = api.Valid
		NewEncoder = func(w io.Writer) Encoder {
			return api.NewEncoder(w)
		}
		usingSonic = true
		return
	}

	Marshal = stdjson.Marshal
	Unmarshal = stdjson.Unmarshal
	Valid = stdjson.Valid
	NewEncoder = func(w io.Writer) Encoder {
		return stdjson.NewEncoder(w)
	}
}

// UsingSonic reports whether the sonic backend is active.
func UsingSonic() bool {
	return usingSonic
}

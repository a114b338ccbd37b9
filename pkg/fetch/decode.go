package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/warpdl/warpload/pkg/loadsched"
)

// Decoder turns a fetched body into the value reported for a resource.
type Decoder interface {
	Decode(r *loadsched.Resource, body []byte) (any, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(r *loadsched.Resource, body []byte) (any, error)

// Decode calls f(r, body).
func (f DecoderFunc) Decode(r *loadsched.Resource, body []byte) (any, error) {
	return f(r, body)
}

func builtinDecoders() map[loadsched.Kind]Decoder {
	return map[loadsched.Kind]Decoder{
		loadsched.KindJSON:   DecoderFunc(decodeJSON),
		loadsched.KindText:   DecoderFunc(decodeText),
		loadsched.KindImage:  DecoderFunc(decodeImage),
		loadsched.KindScript: DecoderFunc(decodeScript),
	}
}

// decodeJSON yields map[string]any, []any or a scalar. Trailing data after
// the first value is an error.
func decodeJSON(_ *loadsched.Resource, body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func decodeText(_ *loadsched.Resource, body []byte) (any, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("body is not valid UTF-8")
	}
	return string(body), nil
}

func decodeImage(_ *loadsched.Resource, body []byte) (any, error) {
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// decodeScript compiles the source without running it. The *goja.Program
// can be run later in any goja runtime.
func decodeScript(r *loadsched.Resource, body []byte) (any, error) {
	return goja.Compile(r.ID, string(body), false)
}

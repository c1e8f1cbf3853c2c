// Package codec provides response encoding and Accept-header content
// negotiation as ordinary pipeline steps. The dispatch core treats
// negotiation as an opaque policy step; this package is the reference
// implementation, shipping JSON and Protocol Buffers codecs.
package codec

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/fast-dispatch/core/http"
	"github.com/searchktools/fast-dispatch/core/middleware"
)

// ErrUnsupportedCodec is returned when no codec serves a content type.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// contextKey is the scratch-map key the negotiation step stores the chosen
// codec under.
const contextKey = "codec.negotiated"

// Codec encodes and decodes message bodies.
type Codec interface {
	// Encode encodes a value to bytes.
	Encode(v any) ([]byte, error)

	// Decode decodes bytes into a value.
	Decode(data []byte, v any) error

	// Name returns the codec name.
	Name() string

	// ContentType returns the media type the codec serves.
	ContentType() string
}

// Registry holds the codecs available for negotiation. The first registered
// codec is the fallback when the Accept header matches nothing.
type Registry struct {
	codecs []Codec
}

// NewRegistry creates a registry. With no arguments it serves JSON and
// protobuf, JSON first (the fallback).
func NewRegistry(codecs ...Codec) *Registry {
	if len(codecs) == 0 {
		codecs = []Codec{&JSONCodec{}, &ProtobufCodec{}}
	}
	return &Registry{codecs: codecs}
}

// ForContentType returns the codec serving the given media type.
func (r *Registry) ForContentType(contentType string) (Codec, error) {
	if mt := mediaType(contentType); mt != "" {
		for _, c := range r.codecs {
			if c.ContentType() == mt {
				return c, nil
			}
		}
	}
	return nil, errors.Wrapf(ErrUnsupportedCodec, "content type %q", contentType)
}

// Negotiate picks a codec for the Accept header value. An empty header, a
// wildcard, or an unmatched list falls back to the first registered codec.
func (r *Registry) Negotiate(accept string) Codec {
	for accept != "" {
		var entry string
		if comma := strings.IndexByte(accept, ','); comma >= 0 {
			entry = accept[:comma]
			accept = accept[comma+1:]
		} else {
			entry = accept
			accept = ""
		}
		mt := mediaType(entry)
		if mt == "" || mt == "*/*" {
			break
		}
		for _, c := range r.codecs {
			if c.ContentType() == mt {
				return c
			}
		}
	}
	return r.codecs[0]
}

// mediaType strips parameters and whitespace from one Accept/Content-Type
// entry: "application/json; q=0.9" -> "application/json".
func mediaType(entry string) string {
	if semi := strings.IndexByte(entry, ';'); semi >= 0 {
		entry = entry[:semi]
	}
	return strings.ToLower(strings.TrimSpace(entry))
}

// Step returns the negotiation pipeline step: it resolves the request's
// Accept header against the registry and stores the chosen codec in the
// context scratch map for Respond to pick up.
func Step(r *Registry) middleware.Step {
	return func(ctx *http.Context, next middleware.Next) {
		ctx.Set(contextKey, r.Negotiate(ctx.Header("Accept")))
		next()
	}
}

// Negotiated returns the codec the negotiation step chose for this exchange,
// or nil when the step did not run.
func Negotiated(ctx *http.Context) Codec {
	if v, ok := ctx.Get(contextKey); ok {
		if c, ok := v.(Codec); ok {
			return c
		}
	}
	return nil
}

// Respond encodes v with the negotiated codec (JSON when negotiation did not
// run) and sends it. Reports whether a response write happened; encode
// failures surface as a 500.
func Respond(ctx *http.Context, code int, v any) bool {
	c := Negotiated(ctx)
	if c == nil {
		c = &JSONCodec{}
	}
	data, err := c.Encode(v)
	if err != nil {
		return ctx.Error(500, "response encoding failed")
	}
	return ctx.Data(code, c.ContentType(), data)
}

// Bind decodes the request body into v using the codec matching the request
// Content-Type header.
func Bind(r *Registry, ctx *http.Context, v any) error {
	c, err := r.ForContentType(ctx.Header("Content-Type"))
	if err != nil {
		return err
	}
	body, err := ctx.Body()
	if err != nil {
		return err
	}
	return c.Decode(body, v)
}

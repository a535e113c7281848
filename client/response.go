package client

import (
	"fmt"

	"github.com/uhttpd/uhttp/codec"
	"github.com/uhttpd/uhttp/wire"
)

// Response is a completed HTTP response (spec §3 "Response (client)").
type Response struct {
	Status        int
	StatusMessage string
	Headers       *wire.Headers
	Data          []byte

	codec codec.Codec
}

// ContentLength returns the parsed Content-Length header, or -1 if absent.
func (r *Response) ContentLength() int {
	v := r.Headers.Get("content-length")
	if v == "" {
		return -1
	}
	n, err := wire.ParseContentLength(v)
	if err != nil {
		return -1
	}
	return n
}

// ContentType returns the Content-Type header, or "" if absent.
func (r *Response) ContentType() string { return r.Headers.Get("content-type") }

// JSON decodes Data into v using the client's configured codec (spec §4.7).
func (r *Response) JSON(v any) error {
	if r.codec == nil {
		r.codec = codec.Default
	}
	if err := r.codec.Decode(r.Data, v); err != nil {
		return fmt.Errorf("client: json decode: %w", err)
	}
	return nil
}

func (r *Response) String() string {
	return fmt.Sprintf("Response(%d %s)", r.Status, r.StatusMessage)
}

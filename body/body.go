// Package body implements the response/request payload tagged variant and
// the Content-Type auto-selection rule from spec §4.1 and DESIGN NOTES §9
// ("dynamic typing of response `data`"): Json(value), Text(string),
// Bytes(buffer), Empty.
package body

import (
	"fmt"

	"github.com/uhttpd/uhttp/codec"
	"github.com/uhttpd/uhttp/wire"
)

// Kind tags which variant a Data value holds.
type Kind uint8

const (
	Empty Kind = iota
	Text
	Bytes
	JSON
)

// Data is the tagged payload passed to respond()/request() calls. Build
// one with the constructors below rather than the struct literal.
type Data struct {
	kind  Kind
	text  string
	bytes []byte
	json  any
}

// FromString builds a Text payload.
func FromString(s string) Data { return Data{kind: Text, text: s} }

// FromBytes builds a Bytes payload.
func FromBytes(b []byte) Data { return Data{kind: Bytes, bytes: b} }

// FromJSON builds a JSON payload from any codec-marshalable value.
func FromJSON(v any) Data { return Data{kind: JSON, json: v} }

// IsEmpty reports whether no payload was supplied.
func (d Data) IsEmpty() bool { return d.kind == Empty }

// Encode applies the spec's Content-Type auto-selection rule: it returns
// the encoded byte payload and sets the matching Content-Type on headers,
// unless headers already has one set (caller wins, per §4.6 "extra
// headers merged, caller wins"). c is the JSON codec to use; pass nil to
// use codec.Default.
func Encode(headers *wire.Headers, d Data, c codec.Codec) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	switch d.kind {
	case Empty:
		if !headers.Has("content-type") {
			headers.Set("content-type", wire.ContentTypeText)
		}
		return nil, nil
	case Text:
		if !headers.Has("content-type") {
			headers.Set("content-type", wire.ContentTypeHTML)
		}
		return []byte(d.text), nil
	case Bytes:
		if !headers.Has("content-type") {
			headers.Set("content-type", wire.ContentTypeOctetStream)
		}
		return d.bytes, nil
	case JSON:
		encoded, err := c.Encode(d.json)
		if err != nil {
			return nil, fmt.Errorf("body: json encode: %w", err)
		}
		if !headers.Has("content-type") {
			headers.Set("content-type", wire.ContentTypeJSON)
		}
		return encoded, nil
	default:
		return nil, fmt.Errorf("body: unknown data kind %d", d.kind)
	}
}

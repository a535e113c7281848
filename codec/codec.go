// Package codec provides the pluggable JSON encoder/decoder interface the
// engine treats as an external collaborator (spec §6.3), plus a default
// implementation.
package codec

// Codec encodes and decodes values to and from JSON bytes. Swappable so a
// memory-constrained target can substitute a smaller encoder.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default is the package-level codec used when callers do not supply
// their own. It is backed by goccy/go-json, an encoding/json-compatible
// drop-in with a leaner allocation profile than the standard library,
// the way the rest of the retrieved corpus wires a faster JSON encoder
// behind their web-framework request/response types.
var Default Codec = gojson{}

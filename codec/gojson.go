package codec

import gojsonlib "github.com/goccy/go-json"

type gojson struct{}

func (gojson) Encode(v any) ([]byte, error) {
	return gojsonlib.Marshal(v)
}

func (gojson) Decode(data []byte, v any) error {
	return gojsonlib.Unmarshal(data, v)
}

package describer

import (
	"bytes"
	"encoding/json"
)

// DecodeUsage decodes a raw JSON usage value. Numbers are kept as
// json.Number, so integers wider than a float64 mantissa re-encode to the
// same digits. JSON null decodes to nil.
func DecodeUsage(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

package bus

import (
	"bytes"
	"encoding/json"
)

// encode marshals v to JSON. Values already containing json.Number (as
// produced by decode below) marshal back out as plain numeric literals,
// so round-tripping through the bus never loses precision on big
// integers/decimals the way a naive float64 decode would (spec §4.D:
// "a transport that preserves rich scalar types").
func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// decode unmarshals JSON into v using json.Number for numeric literals
// instead of float64, carrying through the rich-scalar-preservation
// decision recorded in DESIGN.md for the Flow Model's own deepClone.
func decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Package jsonx converts between typed values and the untyped JSON objects
// some client libraries take as parameters.
package jsonx

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// ToDynamicJSON converts val to a JSON object represented as a map. Raw JSON
// ([]byte or json.RawMessage) is decoded as-is; any other value is encoded
// first. A value that does not encode to a JSON object is an error.
func ToDynamicJSON(val any) (map[string]any, error) {
	var (
		b   []byte
		err error
	)
	switch v := val.(type) {
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	default:
		if b, err = json.Marshal(val); err != nil {
			return nil, err
		}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("not a json object: %w", err)
	}
	if result == nil {
		result = make(map[string]any)
	}
	return result, nil
}

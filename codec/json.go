package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Use it when portability matters more than throughput. Persisted
// manifests record the codec name, so files written with JSON stay
// readable regardless of what Default points at.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used by the library when none is configured.
//
// NOTE: This affects newly written files only. Existing files are decoded
// by the codec recorded in their manifest.
var Default Codec = GoJSON{}

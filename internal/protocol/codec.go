package protocol

import (
	"encoding/json"

	"github.com/nodeway/gatewayd/internal/gwerrors"
)

// envelope reads just enough of a frame to dispatch on kind before a second,
// fully-typed unmarshal of the same bytes.
type envelope struct {
	Kind string `json:"kind"`
}

// Peek decodes only the `kind` discriminator of a raw text frame, returning
// the original bytes for a second, typed unmarshal by the caller. It fails
// with a gwerrors PARSE_ERROR on invalid JSON and SCHEMA_ERROR on a missing
// or unrecognized kind.
func Peek(data []byte) (kind string, err error) {
	var env envelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
		return "", gwerrors.Newf(gwerrors.CodeParseError, "invalid json: %v", jsonErr)
	}
	if env.Kind == "" {
		return "", gwerrors.New(gwerrors.CodeSchemaError, "missing kind")
	}
	if !IsKnownKind(env.Kind) {
		return "", gwerrors.Newf(gwerrors.CodeSchemaError, "unknown kind %q", env.Kind)
	}
	return env.Kind, nil
}

// Decode unmarshals raw bytes into dst, a pointer to one of the typed frame
// structs in frame.go. Use Peek first to determine which type to pass.
func Decode(data []byte, dst interface{}) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return gwerrors.Newf(gwerrors.CodeSchemaError, "malformed frame body: %v", err)
	}
	return nil
}

// Encode marshals a typed frame struct to the wire representation: one JSON
// object per text frame.
func Encode(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}

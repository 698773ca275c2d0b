// Package validation guards the engine's entry points: struct-tag
// validation of request shapes and size limits on opaque payload maps.
// Payload contents are never interpreted, only bounded.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is the sentinel for malformed or oversized input.
var ErrValidation = errors.New("validation failed")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates a request struct against its `validate` tags.
func Struct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrValidation, verrs.Error())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Limits bounds opaque payload maps.
type Limits struct {
	// MaxPayloadBytes caps the JSON-encoded size of a payload map.
	// Zero means unlimited.
	MaxPayloadBytes int
	// MaxKeys caps the number of top-level keys. Zero means unlimited.
	MaxKeys int
}

// DefaultLimits allows payloads up to 1 MiB with at most 1024 top-level
// keys, generous for state maps while still rejecting runaway callers.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 1 << 20, MaxKeys: 1024}
}

// Payload checks an opaque values map against the limits. The map must be
// JSON-encodable because every store persists it in an encoded form.
func Payload(values map[string]interface{}, limits Limits) error {
	if limits.MaxKeys > 0 && len(values) > limits.MaxKeys {
		return fmt.Errorf("%w: payload has %d top-level keys (max %d)",
			ErrValidation, len(values), limits.MaxKeys)
	}
	if limits.MaxPayloadBytes > 0 {
		encoded, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("%w: payload is not encodable: %v", ErrValidation, err)
		}
		if len(encoded) > limits.MaxPayloadBytes {
			return fmt.Errorf("%w: payload is %d bytes (max %d)",
				ErrValidation, len(encoded), limits.MaxPayloadBytes)
		}
	}
	return nil
}

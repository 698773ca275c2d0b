package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	ThreadID string `validate:"required"`
	Name     string `validate:"required,min=2"`
}

func TestStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Struct(sampleRequest{ThreadID: "thread-1", Name: "main"}))
	})

	t.Run("missing required field", func(t *testing.T) {
		err := Struct(sampleRequest{Name: "main"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("min constraint", func(t *testing.T) {
		err := Struct(sampleRequest{ThreadID: "thread-1", Name: "x"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestPayload(t *testing.T) {
	t.Run("within limits", func(t *testing.T) {
		values := map[string]interface{}{"step": 1, "note": "hello"}
		assert.NoError(t, Payload(values, DefaultLimits()))
	})

	t.Run("too many keys", func(t *testing.T) {
		values := map[string]interface{}{"a": 1, "b": 2, "c": 3}
		err := Payload(values, Limits{MaxKeys: 2})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("oversized payload", func(t *testing.T) {
		values := map[string]interface{}{"blob": strings.Repeat("x", 128)}
		err := Payload(values, Limits{MaxPayloadBytes: 64})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unencodable payload", func(t *testing.T) {
		values := map[string]interface{}{"ch": make(chan int)}
		err := Payload(values, DefaultLimits())
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("zero limits mean unlimited", func(t *testing.T) {
		values := map[string]interface{}{"blob": strings.Repeat("x", 1 << 12)}
		assert.NoError(t, Payload(values, Limits{}))
	})
}

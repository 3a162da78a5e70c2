package validation

import (
	"testing"

	apperrors "civic-notify/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markReadSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1}
  }
}`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(map[string]string{"mark_read": markReadSchema})
	require.NoError(t, err)
	return r
}

func TestRegistry_ValidateBytes(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", `{"id":"n-1"}`, false},
		{"missing id", `{}`, true},
		{"empty id", `{"id":""}`, true},
		{"wrong type", `{"id":42}`, true},
		{"not json", `{"id":`, true},
		{"empty body", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateBytes("mark_read", []byte(tt.doc))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_ValidateGo(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.ValidateGo("mark_read", map[string]interface{}{"id": "n-9"}))
	assert.Error(t, r.ValidateGo("mark_read", map[string]interface{}{"other": true}))
}

func TestRegistry_UnknownSchema(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.Has("nope"))
	err := r.ValidateBytes("nope", []byte(`{}`))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestNewRegistry_BadSchema(t *testing.T) {
	_, err := NewRegistry(map[string]string{"broken": `{"type": 12}`})
	assert.Error(t, err)
	assert.Panics(t, func() { MustRegistry(map[string]string{"broken": `{`}) })
}

package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "stockwatch/pkg/domain-errors"
)

// Opaque keys come straight from URL path segments and feed SQL params and object keys.
func TestParseOrganizationID_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty string", "", true},
		{"whitespace only", "   ", true},
		{"path traversal", "../../etc/passwd", true},
		{"slash", "org/1", true},
		{"null byte", "org\x00", true},
		{"embedded space", "org 1", true},
		{"oversized input", strings.Repeat("a", 1000), true},
		{"firestore style key", "x8Fq2LmZ0aBc", false},
		{"uuid", uuid.NewString(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseOrganizationID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				assert.True(t, id.IsNil())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestParseItemID_MatchesOrganizationRules(t *testing.T) {
	for _, input := range []string{"", "a/b", "\t"} {
		_, errOrg := ParseOrganizationID(input)
		_, errItem := ParseItemID(input)
		require.Error(t, errOrg)
		require.Error(t, errItem)
	}

	id, err := ParseItemID("milk-1")
	require.NoError(t, err)
	assert.Equal(t, ItemID("milk-1"), id)
}

func TestParseAlertID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAlertID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseAlertID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseAlertID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		u := uuid.New()
		id, err := ParseAlertID(u.String())
		require.NoError(t, err)
		assert.Equal(t, AlertID(u), id)
		assert.Equal(t, u.String(), id.String())
	})
}

func TestNewAlertID_Unique(t *testing.T) {
	a, b := NewAlertID(), NewAlertID()
	assert.False(t, a.IsNil())
	assert.NotEqual(t, a, b)
}

func TestAlertID_JSONIsCanonicalString(t *testing.T) {
	original := NewAlertID()
	b, err := json.Marshal(struct {
		ID AlertID `json:"id"`
	}{original})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+original.String()+`"}`, string(b))

	var decoded struct {
		ID AlertID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, original, decoded.ID)
}

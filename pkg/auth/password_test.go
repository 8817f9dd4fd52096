package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	t.Run("hashes and verifies", func(t *testing.T) {
		hash, err := HashPassword("Sup3r-secret!")
		require.NoError(t, err)
		assert.NotEqual(t, "Sup3r-secret!", hash)
		assert.NoError(t, ComparePassword(hash, "Sup3r-secret!"))
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := HashPassword("")
		assert.Error(t, err)
	})

	t.Run("rejects oversized password", func(t *testing.T) {
		_, err := HashPassword(strings.Repeat("a", 73))
		assert.Error(t, err)
	})

	t.Run("wrong password fails comparison", func(t *testing.T) {
		hash, err := HashPassword("Sup3r-secret!")
		require.NoError(t, err)
		assert.Error(t, ComparePassword(hash, "not-the-password"))
	})
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "Abcdefg1!x", false},
		{"too short", "Ab1!x", true},
		{"missing uppercase", "abcdefg1!x", true},
		{"missing lowercase", "ABCDEFG1!X", true},
		{"missing digit", "Abcdefgh!x", true},
		{"missing symbol", "Abcdefg1xx", true},
		{"too long", "A1!" + strings.Repeat("a", 70), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

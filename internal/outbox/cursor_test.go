package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	orig := Cursor{
		UpdatedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		ID:        "3f1e9c1a-7d42-4a7b-9a2e-6c1f0d8b4e21",
	}

	decoded, err := DecodeCursor(orig.Encode())
	require.NoError(t, err)
	assert.True(t, orig.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, orig.ID, decoded.ID)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"not json", "bm90IGpzb24="},
		{"missing id", "eyJ1cGRhdGVkX2F0IjoiMjAyNS0wMy0xNFQwOToyNjo1M1oifQ=="},
		{"empty token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

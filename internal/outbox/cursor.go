package outbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCursor indicates a malformed pagination cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a seek-pagination position over dead rows, ordered by
// (updated_at DESC, id DESC). The id tiebreak keeps pages stable when
// several rows share an updated_at timestamp.
type Cursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
}

// Encode serializes the cursor as a base64 JSON token.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor parses a base64 JSON cursor token.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	if c.ID == "" || c.UpdatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidCursor)
	}

	return &c, nil
}

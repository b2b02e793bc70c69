package model

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cursor is the keyset position for list endpoints: the (updated_at, id)
// tuple of the last row returned. Listings are sorted by updated_at
// descending, tie-broken by id.
type Cursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// Encode produces the opaque wire form.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d|%s", c.UpdatedAt.UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor. An empty string is the start of the
// listing. A malformed cursor is reported as CodeInvalidCursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, E(CodeInvalidCursor, "malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, E(CodeInvalidCursor, "malformed cursor")
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, E(CodeInvalidCursor, "malformed cursor")
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, E(CodeInvalidCursor, "malformed cursor")
	}
	return &Cursor{UpdatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}

// ClampLimit bounds a page size to [1, 100], defaulting to 20.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

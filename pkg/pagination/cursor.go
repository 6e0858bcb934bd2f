// Package pagination implements deterministic cursor pagination: opaque
// base64 cursors encoding a (sort value, row id) position, query building
// with a mandatory unique-id tiebreaker, and limit+1 result processing that
// detects further pages without a count query. It is stateless; cursors live
// only for one request/response round trip.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCursor indicates a cursor that is not valid base64 JSON or
	// is missing its position fields.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrInvalidSortField indicates a sort field outside the allow-list.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// Cursor is the decoded position marker: the boundary row's sort field
// value, its unique id as tiebreaker, and when the cursor was minted.
type Cursor struct {
	SortValue any       `json:"v"`
	ID        string    `json:"id"`
	EncodedAt time.Time `json:"t"`
}

// Encode renders the cursor as opaque URL-safe base64.
func (c Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Cursor fields are plain JSON values; marshal cannot fail for
		// anything BuildQuery produces.
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor. Malformed input fails with
// ErrInvalidCursor; pagination never silently restarts from the beginning.
func DecodeCursor(s string) (Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" {
		return Cursor{}, fmt.Errorf("%w: missing row id", ErrInvalidCursor)
	}
	return c, nil
}

package models

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Cursor is a keyset position in a (created_at DESC, id DESC) listing.
// Wire format: base64url("<created_at_ms>|<id>").
type Cursor struct {
	CreatedAt int64
	ID        string
}

// EncodeCursor returns the opaque cursor string, or "" for the zero cursor.
func EncodeCursor(c Cursor) string {
	if c.CreatedAt == 0 && c.ID == "" {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt, 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string. It returns false for empty or
// malformed input so callers can start from the first page.
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}
	// ids may themselves contain '|' (content_tag ids do not, but be lenient)
	ts, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return Cursor{}, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, false
	}
	return Cursor{CreatedAt: ms, ID: id}, true
}

// Page is one keyset page of results. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

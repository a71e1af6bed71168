package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque position a page token encodes. Values hold the sort keys of
// the last item returned, in the order the listing sorts by.
type Cursor struct {
	After []string `json:"after,omitempty"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return len(c.After) == 0
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// DecodeTokenN decodes a token and requires exactly n cursor values.
func DecodeTokenN(token string, n int) (Cursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return Cursor{}, err
	}
	if !cursor.IsZero() && len(cursor.After) != n {
		return Cursor{}, fmt.Errorf("%w: expected %d cursor values", ErrInvalidPageToken, n)
	}
	return cursor, nil
}

// Slice pages an already sorted slice. keys returns the sort keys of an item and
// after reports whether an item sorts strictly after the cursor position.
func Slice[T any](items []T, size int, token string, keys func(T) []string, after func(item T, cursor []string) bool) ([]T, string, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	var start int
	if token != "" {
		width := 0
		if len(items) > 0 {
			width = len(keys(items[0]))
		}
		cursor, err := DecodeToken(token)
		if err != nil {
			return nil, "", err
		}
		if width > 0 && len(cursor.After) != width {
			return nil, "", fmt.Errorf("%w: expected %d cursor values", ErrInvalidPageToken, width)
		}
		start = len(items)
		for i, item := range items {
			if after(item, cursor.After) {
				start = i
				break
			}
		}
	}
	end := start + size
	if end >= len(items) {
		return append([]T(nil), items[start:]...), "", nil
	}
	page := append([]T(nil), items[start:end]...)
	next, err := EncodeToken(Cursor{After: keys(page[len(page)-1])})
	if err != nil {
		return nil, "", err
	}
	return page, next, nil
}

// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"errors"
	"strings"

	"example.com/attendance/internal/domain"
)

const cursorVersion = "v1"

// ErrInvalidCursor is returned for history page tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid history cursor")

// EncodeCursor renders the position after the last returned day as an opaque page token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := strings.Join([]string{cursorVersion, c.LocalDate, c.ID}, ":")
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a page token. An empty token means the first page and yields nil.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	version, rest, ok := strings.Cut(string(decoded), ":")
	if !ok || version != cursorVersion {
		return nil, ErrInvalidCursor
	}
	date, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	day, err := domain.ParseLocalDate(date)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{LocalDate: day, ID: id}, nil
}

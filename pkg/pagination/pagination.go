// Package pagination implements newest-first keyset paging over a
// (timestamp, id) pair. Cursors are opaque to clients.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

var errMalformedCursor = errors.New("malformed cursor")

// Params carries the limit and cursor a client sent.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor names the last row of the previous page.
type Cursor struct {
	At time.Time `json:"t"`
	ID uuid.UUID `json:"id"`
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting to DefaultLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// LimitWithBuffer asks for one extra row to detect a next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func EncodeCursor(c Cursor) string {
	c.At = c.At.UTC()
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes value. An empty value yields a nil cursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	if c.At.IsZero() || c.ID == uuid.Nil {
		return nil, errMalformedCursor
	}
	return &c, nil
}

// Keyset returns a gorm scope that orders by column then id, newest first,
// starts after cursor when one is given and fetches one row past limit.
// column must be a trusted identifier.
func Keyset(column string, cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor != nil {
			db = db.Where(fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND id < ?)", column), cursor.At, cursor.At, cursor.ID)
		}
		return db.Order(column + " DESC").Order("id DESC").Limit(LimitWithBuffer(limit))
	}
}

// Trim cuts rows fetched with LimitWithBuffer down to limit and returns the
// cursor of the next page, or "" when rows was the last page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	return rows, EncodeCursor(key(rows[len(rows)-1]))
}

// Package option provides composable query modifiers for the generic store.
package option

import (
	"fmt"
	"strconv"
	"time"

	"github.com/permipay/permipay/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithLimit caps the number of returned rows.
func WithLimit(n int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}

// WithOrder applies a raw ORDER BY expression.
func WithOrder(expr string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if expr == "" {
			return db
		}
		return db.Order(expr)
	})
}

// ApplyCursor restricts a timestamp-descending listing to rows strictly
// before the cursor position. Fetches limit+1 rows so the caller can detect
// whether another page exists.
func ApplyCursor(column string, cursor *pagination.Cursor, limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if cursor != nil && cursor.Timestamp != "" {
			var id any = cursor.ID
			if parsed, err := strconv.ParseInt(cursor.ID, 10, 64); err == nil {
				id = parsed
			}
			// Bind as time.Time so each dialect formats the literal itself.
			var ts any = cursor.Timestamp
			if parsed, err := time.Parse(time.RFC3339Nano, cursor.Timestamp); err == nil {
				ts = parsed
			}
			db = db.Where(
				fmt.Sprintf("(%s < ?) OR (%s = ? AND id < ?)", column, column),
				ts, ts, id,
			)
		}
		if limit > 0 {
			db = db.Limit(limit + 1)
		}
		return db.Order(fmt.Sprintf("%s DESC, id DESC", column))
	})
}

package option

import (
	"strings"

	"gorm.io/gorm"
)

// Option mutates a gorm statement before execution.
type Option interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type sortOption string

func (s sortOption) Apply(stmt *gorm.DB) *gorm.DB {
	if s == "" {
		return stmt
	}
	return stmt.Order(string(s))
}

// WithSortBy applies a pre-validated ORDER BY clause.
func WithSortBy(clause string) Option {
	return sortOption(clause)
}

// WithQuerySortBy builds an ORDER BY clause from user input, restricted to the
// allowed column set. Unknown columns fall back to created_at.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) string {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if column == "" || !allowed[column] {
		column = "created_at"
	}

	direction := strings.ToLower(strings.TrimSpace(orderBy))
	switch direction {
	case "asc", "ascending":
		direction = "ASC"
	default:
		direction = "DESC"
	}

	return column + " " + direction
}

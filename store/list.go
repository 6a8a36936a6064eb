package store

import (
	"strings"

	"synapse/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOptions filters and paginates a listing. Cursor is the opaque value
// returned as NextCursor by the previous page.
type ListOptions struct {
	Search string
	Type   string
	Cursor string
	Limit  int
}

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultPageSize
	case o.Limit > maxPageSize:
		return maxPageSize
	}
	return o.Limit
}

// keysetClause appends the strictly-descending (created_at, id) predicate
// for the cursor, if any. alias is the table alias ("c", "n", ...).
func keysetClause(alias, cursor string, where []string, args []any) ([]string, []any) {
	cur, ok := models.DecodeCursor(cursor)
	if !ok {
		return where, args
	}
	where = append(where,
		"("+alias+".created_at < ? OR ("+alias+".created_at = ? AND "+alias+".id < ?))")
	return where, append(args, cur.CreatedAt, cur.CreatedAt, cur.ID)
}

// likePattern lowercases and escapes a search term for LIKE.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(search))) + "%"
}

// paginate trims the extra look-ahead row and builds the next cursor.
func paginate[T any](items []T, limit int, key func(T) models.Cursor) models.Page[T] {
	page := models.Page[T]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = models.EncodeCursor(key(page.Items[limit-1]))
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}

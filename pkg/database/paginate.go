package database

import (
	"strconv"
	"strings"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a normalized page request.
type Page struct {
	Page     int
	Limit    int
	OrderBy  string
	OrderDir string
}

// NewPage clamps page >= 1 and 1 <= limit <= MaxLimit.
func NewPage(page, limit int, orderBy, orderDir string) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Page{Page: page, Limit: limit, OrderBy: orderBy, OrderDir: orderDir}
}

// Offset returns the row offset for the page.
func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// OrderClause renders "ORDER BY <prefix><col> <dir>" when the column is in the allow-list,
// otherwise the fallback clause.
func (p Page) OrderClause(prefix string, allowed []string, fallback string) string {
	dir := strings.ToUpper(strings.TrimSpace(p.OrderDir))
	if dir != "ASC" && dir != "DESC" {
		dir = "DESC"
	}
	for _, col := range allowed {
		if col == p.OrderBy {
			return " ORDER BY " + prefix + col + " " + dir
		}
	}
	return " ORDER BY " + fallback
}

// LimitClause renders LIMIT/OFFSET from already clamped integers.
func (p Page) LimitClause() string {
	return " LIMIT " + strconv.Itoa(p.Limit) + " OFFSET " + strconv.Itoa(p.Offset())
}

// Pagination is the metadata block returned with every list response.
type Pagination struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

func NewPagination(p Page, total int) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{
		Total:   total,
		Page:    p.Page,
		Limit:   p.Limit,
		Pages:   pages,
		HasNext: p.Page*p.Limit < total,
		HasPrev: p.Page > 1,
	}
}

// Placeholders returns "?,?,?" for n values.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

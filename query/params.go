// Package query composes search, filter, date-range, sort and pagination
// clauses onto a gorm query and builds paginated responses.
package query

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	DefaultSortBy     = "created_at"
	DefaultDateColumn = "created_at"

	SortAsc  = "asc"
	SortDesc = "desc"
)

type Pagination struct {
	Page  int
	Limit int
}

// Offset is the number of rows skipped before the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Sorting struct {
	SortBy    string
	SortOrder string
}

type Search struct {
	SearchTerm        string
	SearchableColumns []string
}

type DateRange struct {
	StartDate  *time.Time
	EndDate    *time.Time
	DateColumn string
}

// Params is everything a list endpoint accepts.
type Params struct {
	Pagination Pagination
	Sorting    Sorting
	Search     Search
	Filters    map[string]interface{}
	DateRange  DateRange
}

// Options describe what a particular endpoint allows callers to touch.
// Column names here are trusted; request values never become identifiers
// unless they match one of them. Filter columns ending in "_id" take UUIDs
// and columns starting with "is_" take booleans; both also accept "null".
type Options struct {
	SortColumns       []string
	SearchableColumns []string
	FilterColumns     []string
	DateColumn        string
	DefaultSortBy     string
	DefaultSortOrder  string
}

// FilterError reports a filter value the column cannot hold.
type FilterError struct {
	Column string
	Value  string
}

func (e *FilterError) Error() string {
	return "Invalid value for filter " + e.Column
}

// ParseParams reads list parameters from the query string. Malformed
// pagination, sort and date parameters fall back to their defaults; a
// malformed filter is an error.
func ParseParams(r *http.Request, opts Options) (Params, error) {
	q := r.URL.Query()

	p := Params{
		Pagination: Pagination{
			Page:  positiveInt(q.Get("page"), DefaultPage),
			Limit: positiveInt(q.Get("limit"), DefaultLimit),
		},
		Search: Search{
			SearchTerm:        strings.TrimSpace(q.Get("search")),
			SearchableColumns: opts.SearchableColumns,
		},
		Filters: map[string]interface{}{},
		DateRange: DateRange{
			DateColumn: opts.DateColumn,
		},
	}
	if p.Pagination.Limit > MaxLimit {
		p.Pagination.Limit = MaxLimit
	}

	defaultSort := opts.DefaultSortBy
	if defaultSort == "" {
		defaultSort = DefaultSortBy
	}
	p.Sorting.SortBy = defaultSort
	if sortBy := q.Get("sortBy"); sortBy != "" && contains(opts.SortColumns, sortBy) {
		p.Sorting.SortBy = sortBy
	}

	p.Sorting.SortOrder = SortDesc
	if opts.DefaultSortOrder == SortAsc {
		p.Sorting.SortOrder = SortAsc
	}
	if order := strings.ToLower(q.Get("sortOrder")); order != "" {
		if order == SortAsc {
			p.Sorting.SortOrder = SortAsc
		} else {
			p.Sorting.SortOrder = SortDesc
		}
	}

	for _, col := range opts.FilterColumns {
		v := q.Get(col)
		if v == "" {
			continue
		}
		value, err := filterValue(col, v)
		if err != nil {
			return Params{}, err
		}
		p.Filters[col] = value
	}

	if start, ok := parseDate(q.Get("startDate"), false); ok {
		p.DateRange.StartDate = &start
	}
	if end, ok := parseDate(q.Get("endDate"), true); ok {
		p.DateRange.EndDate = &end
	}

	return p, nil
}

func positiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// filterValue converts a raw filter to the column's type. "null" matches
// NULL on any column.
func filterValue(col, v string) (interface{}, error) {
	lower := strings.ToLower(v)
	if lower == "null" {
		return nil, nil
	}
	switch {
	case strings.HasSuffix(col, "_id"):
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, &FilterError{Column: col, Value: v}
		}
		return id.String(), nil
	case strings.HasPrefix(col, "is_"):
		b, err := strconv.ParseBool(lower)
		if err != nil {
			return nil, &FilterError{Column: col, Value: v}
		}
		return b, nil
	}
	switch lower {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return v, nil
}

const dateOnly = "2006-01-02"

// parseDate accepts RFC3339 or a bare date. A bare end date covers the
// whole day so the range stays inclusive.
func parseDate(s string, endOfDay bool) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package query

import (
	"math"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ApplySearch ORs a case-insensitive contains predicate across the
// searchable columns.
func ApplySearch(db *gorm.DB, s Search) *gorm.DB {
	if s.SearchTerm == "" || len(s.SearchableColumns) == 0 {
		return db
	}

	pattern := "%" + likeEscaper.Replace(s.SearchTerm) + "%"
	exprs := make([]clause.Expression, 0, len(s.SearchableColumns))
	for _, col := range s.SearchableColumns {
		exprs = append(exprs, clause.Expr{
			SQL:  "? ILIKE ?",
			Vars: []interface{}{clause.Column{Name: col}, pattern},
		})
	}
	// a lone OrConditions is joined with OR by gorm's where builder
	if len(exprs) == 1 {
		return db.Where(exprs[0])
	}
	return db.Where(clause.Or(exprs...))
}

// ApplyFilters adds one equality predicate per filter. A nil value matches NULL.
func ApplyFilters(db *gorm.DB, filters map[string]interface{}) *gorm.DB {
	for _, col := range sortedKeys(filters) {
		db = db.Where(clause.Eq{Column: clause.Column{Name: col}, Value: filters[col]})
	}
	return db
}

// ApplyDateRange bounds the date column inclusively on both ends.
func ApplyDateRange(db *gorm.DB, dr DateRange) *gorm.DB {
	col := dr.DateColumn
	if col == "" {
		col = DefaultDateColumn
	}
	if dr.StartDate != nil {
		db = db.Where(clause.Gte{Column: clause.Column{Name: col}, Value: *dr.StartDate})
	}
	if dr.EndDate != nil {
		db = db.Where(clause.Lte{Column: clause.Column{Name: col}, Value: *dr.EndDate})
	}
	return db
}

func ApplySort(db *gorm.DB, s Sorting) *gorm.DB {
	col := s.SortBy
	if col == "" {
		col = DefaultSortBy
	}
	return db.Order(clause.OrderByColumn{
		Column: clause.Column{Name: col},
		Desc:   s.SortOrder != SortAsc,
	})
}

func ApplyPagination(db *gorm.DB, p Pagination) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Limit)
}

// ApplyPredicates applies everything that narrows the row set: search,
// filters and date range. This is what the count query sees.
func ApplyPredicates(db *gorm.DB, p Params) *gorm.DB {
	db = ApplySearch(db, p.Search)
	db = ApplyFilters(db, p.Filters)
	return ApplyDateRange(db, p.DateRange)
}

// Meta is the pagination block of a paginated response.
type Meta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNextPage bool  `json:"has_next_page"`
	HasPrevPage bool  `json:"has_prev_page"`
}

func NewMeta(page, limit int, total int64) Meta {
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Meta{
		CurrentPage: page,
		PerPage:     limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// Page is one page of results plus its metadata.
type Page struct {
	Data       interface{} `json:"data"`
	Pagination Meta        `json:"pagination"`
}

func (p *Page) Items() interface{} { return p.Data }
func (p *Page) Meta() interface{}  { return p.Pagination }

// Paginate counts the rows base matches after search, filter and date
// predicates, then loads the requested page into dest. scopes only touch the
// data query, which is where preloads belong.
func Paginate(base *gorm.DB, p Params, dest interface{}, scopes ...func(*gorm.DB) *gorm.DB) (*Page, error) {
	filtered := ApplyPredicates(base, p).Session(&gorm.Session{})

	var total int64
	if err := filtered.Count(&total).Error; err != nil {
		return nil, err
	}

	data := ApplyPagination(ApplySort(filtered, p.Sorting), p.Pagination)
	if len(scopes) > 0 {
		data = data.Scopes(scopes...)
	}
	if err := data.Find(dest).Error; err != nil {
		return nil, err
	}

	return &Page{
		Data:       dest,
		Pagination: NewMeta(p.Pagination.Page, p.Pagination.Limit, total),
	}, nil
}

// Preload is a scope for Paginate.
func Preload(associations ...string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		for _, a := range associations {
			db = db.Preload(a)
		}
		return db
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

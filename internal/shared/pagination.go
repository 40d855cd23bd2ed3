package shared

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Pagination is the page window of a listing plus its totals.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination normalises page and perPage and derives the page count.
// perPage is capped at 100.
func NewPagination(page, perPage, total int) Pagination {
	switch {
	case perPage <= 0:
		perPage = defaultPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}
	if page < 1 {
		page = 1
	}
	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// WithTotal returns p with Total and TotalPages filled in.
func (p Pagination) WithTotal(total int) Pagination {
	return NewPagination(p.Page, p.PerPage, total)
}

// Offset is the number of rows preceding the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

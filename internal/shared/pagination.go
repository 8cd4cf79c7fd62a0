package shared

import (
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageRequest carries the parsed pagination and sorting query parameters.
type PageRequest struct {
	Page     int
	Limit    int
	SortBy   string
	SortDesc bool
}

// Offset returns the SQL offset for the request.
func (p PageRequest) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// OrderBy resolves the sort column against a whitelist, falling back to
// fallback for unknown columns. The returned clause is safe to interpolate.
func (p PageRequest) OrderBy(allowed map[string]string, fallback string) string {
	column, ok := allowed[p.SortBy]
	if !ok {
		column = fallback
	}
	if p.SortDesc {
		return column + " DESC"
	}
	return column + " ASC"
}

// ParsePageRequest reads page, limit and sort query parameters. A leading
// '-' on sort selects descending order. Limits above the cap are clamped.
func ParsePageRequest(r *http.Request) PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	sort := strings.TrimSpace(q.Get("sort"))
	desc := false
	if strings.HasPrefix(sort, "-") {
		desc = true
		sort = sort[1:]
	}
	return PageRequest{Page: page, Limit: limit, SortBy: sort, SortDesc: desc}
}

// Pagination is the metadata block of list responses.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata for a result set.
func NewPagination(req PageRequest, total int) Pagination {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// ListResponse is the documented envelope for collection endpoints.
type ListResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

package shared

import (
	"net/http"

	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// ListFilters carries the standard list query for master data resources.
type ListFilters struct {
	Page            internalshared.PageRequest
	Search          string
	IncludeInactive bool
}

// ParseListFilters reads pagination, search and the inactive toggle from the request.
func ParseListFilters(r *http.Request) ListFilters {
	return ListFilters{
		Page:            internalshared.ParsePageRequest(r),
		Search:          r.URL.Query().Get("search"),
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
	}
}

package shared

import "math"

const (
	// DefaultLimit is used when a list request omits limit.
	DefaultLimit = 50
	// MaxLimit caps list requests.
	MaxLimit = 500
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata from limit/offset style input.
func NewPagination(limit, offset, total int) Pagination {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{Page: offset/limit + 1, PerPage: limit, Total: total, TotalPages: totalPages}
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

package query

// Pagination describes where a page sits in the full result.
type Pagination struct {
	CurrentPage   int   `json:"currentPage"`
	TotalPages    int   `json:"totalPages"`
	TotalProducts int64 `json:"totalProducts"`
	HasNext       bool  `json:"hasNext"`
	HasPrev       bool  `json:"hasPrev"`
	PageSize      int   `json:"pageSize"`
}

// NewPagination computes page metadata; totalPages is ceil(total/limit).
func NewPagination(page, limit int, total int64) Pagination {
	if limit < 1 {
		limit = DefaultLimit
	}
	if page < 1 {
		page = DefaultPage
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{
		CurrentPage:   page,
		TotalPages:    totalPages,
		TotalProducts: total,
		HasNext:       page < totalPages,
		HasPrev:       page > 1,
		PageSize:      limit,
	}
}

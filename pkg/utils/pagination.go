package utils

// PaginationParams holds a normalized page/limit pair for list queries
type PaginationParams struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// GetPaginationParams clamps raw query values. Page starts at 1; a
// non-positive limit means the caller's default applies.
func GetPaginationParams(page, limit int) PaginationParams {
	if page < 1 {
		page = 1
	}
	if limit < 0 {
		limit = 0
	}
	return PaginationParams{Page: page, Limit: limit}
}

// CalculateOffset returns the SQL offset for the page
func (p PaginationParams) CalculateOffset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

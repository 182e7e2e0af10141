package pagination

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

// PageSize is the fixed number of rows per page in list views.
const PageSize = 20

// Params is a 1-based page request.
type Params struct {
	Page int
	Size int
}

// New clamps page to at least 1 and falls back to PageSize for size <= 0.
// Pages past math.MaxInt/size are clamped so Offset cannot overflow.
func New(page, size int) Params {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = PageSize
	}
	if maxPage := math.MaxInt / size; page > maxPage {
		page = maxPage
	}
	return Params{Page: page, Size: size}
}

// FromContext reads the "page" query parameter. Missing, malformed, zero or
// negative values all mean page 1.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	return New(page, PageSize)
}

// Offset is the number of rows to skip.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Size
}

// Limit is the number of rows to return.
func (p Params) Limit() int {
	return p.Size
}

// TotalPages is ceil(total/size).
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.Size,
		TotalPages: TotalPages(total, p.Size),
	}
}

// HasNext reports whether another page follows.
func (p Params) HasNext(total int) bool {
	return p.Page*p.Size < total
}

// HasPrevious reports whether p is past the first page.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// Slice returns the page of items from an in-memory result.
func Slice[T any](items []T, p Params) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

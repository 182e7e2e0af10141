package pagination

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithQuery(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/referrals?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		page  int
	}{
		{"", 1},
		{"page=1", 1},
		{"page=3", 3},
		{"page=0", 1},
		{"page=-4", 1},
		{"page=abc", 1},
	}
	for _, tt := range tests {
		p := FromContext(contextWithQuery(tt.query))
		if p.Page != tt.page {
			t.Errorf("query %q: page = %d, want %d", tt.query, p.Page, tt.page)
		}
		if p.Size != PageSize {
			t.Errorf("query %q: size = %d, want %d", tt.query, p.Size, PageSize)
		}
	}
}

func TestOffset(t *testing.T) {
	if got := New(1, 20).Offset(); got != 0 {
		t.Errorf("page 1 offset = %d, want 0", got)
	}
	if got := New(2, 20).Offset(); got != 20 {
		t.Errorf("page 2 offset = %d, want 20", got)
	}
	if got := New(5, 10).Offset(); got != 40 {
		t.Errorf("page 5 offset = %d, want 40", got)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{25, 20, 2},
		{40, 20, 2},
		{41, 20, 3},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestSlice_TwentyFiveItems(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	first := Slice(items, New(1, PageSize))
	second := Slice(items, New(2, PageSize))
	third := Slice(items, New(3, PageSize))

	if len(first) != 20 || first[0] != 0 {
		t.Errorf("page 1: got %d items starting at %v", len(first), first)
	}
	if len(second) != 5 || second[0] != 20 {
		t.Errorf("page 2: got %d items %v", len(second), second)
	}
	if len(third) != 0 {
		t.Errorf("page 3 should be empty, got %v", third)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a"}, 25, New(2, PageSize))
	if resp.Total != 25 || resp.Page != 2 || resp.PageSize != 20 || resp.TotalPages != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHasNextPrevious(t *testing.T) {
	p := New(1, 20)
	if !p.HasNext(25) || p.HasPrevious() {
		t.Errorf("page 1 of 25: HasNext=%v HasPrevious=%v", p.HasNext(25), p.HasPrevious())
	}
	p = New(2, 20)
	if p.HasNext(25) || !p.HasPrevious() {
		t.Errorf("page 2 of 25: HasNext=%v HasPrevious=%v", p.HasNext(25), p.HasPrevious())
	}
}

func TestFromContext_HugePage(t *testing.T) {
	p := FromContext(contextWithQuery("page=461168601842738792"))
	if p.Offset() < 0 {
		t.Fatalf("offset overflowed: %d", p.Offset())
	}
	if got := Slice([]int{1, 2, 3}, p); len(got) != 0 {
		t.Errorf("expected an empty page, got %v", got)
	}
	resp := NewResponse([]int{}, 3, p)
	if resp.TotalPages != 1 {
		t.Errorf("total pages = %d, want 1", resp.TotalPages)
	}
}

func TestNew_ClampsToMaxPage(t *testing.T) {
	p := New(math.MaxInt, 20)
	if p.Page != math.MaxInt/20 {
		t.Errorf("page = %d, want %d", p.Page, math.MaxInt/20)
	}
	if p.Offset() < 0 {
		t.Errorf("offset overflowed: %d", p.Offset())
	}
}

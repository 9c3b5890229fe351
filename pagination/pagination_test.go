package pagination

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPaginate(t *testing.T) {
	tests := []struct {
		name               string
		total, page, per   int
		wantPage, wantOff  int
		wantLimit, wantTot int
		prev, next         bool
	}{
		{"first page", 25, 1, 10, 1, 0, 10, 3, false, true},
		{"middle page", 25, 2, 10, 2, 10, 10, 3, true, true},
		{"last partial page", 25, 3, 10, 3, 20, 5, 3, true, false},
		{"page past the end", 25, 9, 10, 3, 20, 5, 3, true, false},
		{"page below one", 25, -1, 10, 1, 0, 10, 3, false, true},
		{"empty listing", 0, 1, 10, 1, 0, 0, 1, false, false},
		{"bad per page", 3, 2, 0, 2, 1, 1, 3, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(tt.total, tt.page, tt.per)
			if p.Number != tt.wantPage || p.Offset != tt.wantOff || p.Limit != tt.wantLimit || p.TotalPages != tt.wantTot {
				t.Errorf("Paginate(%d, %d, %d) = %+v", tt.total, tt.page, tt.per, p)
			}
			if p.HasPrev != tt.prev || p.HasNext != tt.next {
				t.Errorf("prev/next = %v/%v, want %v/%v", p.HasPrev, p.HasNext, tt.prev, tt.next)
			}
		})
	}
}

func TestSlice(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	if diff := cmp.Diff([]string{"c", "d"}, Slice(items, Paginate(len(items), 2, 2))); diff != "" {
		t.Errorf("Slice mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"e"}, Slice(items, Paginate(len(items), 3, 2))); diff != "" {
		t.Errorf("Slice mismatch (-want +got):\n%s", diff)
	}
	if got := Slice([]string{}, Paginate(0, 1, 2)); len(got) != 0 {
		t.Errorf("Slice of empty = %v", got)
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		current, total, siblings int
		want                     []int
	}{
		{1, 1, 1, []int{1}},
		{1, 2, 1, []int{1, 2}},
		{1, 5, 1, []int{1, 2, Ellipsis, 5}},
		{3, 5, 1, []int{1, 2, 3, 4, 5}},
		{1, 10, 1, []int{1, 2, Ellipsis, 10}},
		{5, 10, 1, []int{1, Ellipsis, 4, 5, 6, Ellipsis, 10}},
		{4, 10, 1, []int{1, 2, 3, 4, 5, Ellipsis, 10}},
		{10, 10, 1, []int{1, Ellipsis, 9, 10}},
		{8, 10, 1, []int{1, Ellipsis, 7, 8, 9, 10}},
		{7, 10, 1, []int{1, Ellipsis, 6, 7, 8, 9, 10}},
		{50, 10, 2, []int{1, Ellipsis, 8, 9, 10}},
		{1, 0, 1, nil},
	}

	for _, tt := range tests {
		got := Window(tt.current, tt.total, tt.siblings)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Window(%d, %d, %d) mismatch (-want +got):\n%s", tt.current, tt.total, tt.siblings, diff)
		}
	}
}

// pagination/pagination.go

// Package pagination computes page bounds and the window of page links
// shown under product listings.
package pagination

// Ellipsis marks a gap in a Window.
const Ellipsis = 0

// Page describes one page of a listing.
type Page struct {
	Number     int  `json:"page"`
	PerPage    int  `json:"perPage"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	Offset     int  `json:"-"`
	Limit      int  `json:"-"`
	HasPrev    bool `json:"hasPrev"`
	HasNext    bool `json:"hasNext"`
}

// Paginate clamps page into [1, TotalPages]. An empty listing still has
// one (empty) page.
func Paginate(total, page, perPage int) Page {
	if perPage < 1 {
		perPage = 1
	}
	if total < 0 {
		total = 0
	}
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	offset := (page - 1) * perPage
	limit := perPage
	if offset+limit > total {
		limit = total - offset
	}
	return Page{
		Number:     page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: pages,
		Offset:     offset,
		Limit:      limit,
		HasPrev:    page > 1,
		HasNext:    page < pages,
	}
}

// Slice returns the part of items that falls on p.
func Slice[T any](items []T, p Page) []T {
	if p.Offset >= len(items) {
		return items[:0]
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// Window returns the page numbers to render around current: the first
// and last pages, siblings pages either side of current, and Ellipsis
// wherever pages are skipped. A gap of exactly one page is filled in
// instead of being elided.
func Window(current, totalPages, siblings int) []int {
	if totalPages < 1 {
		return nil
	}
	if siblings < 0 {
		siblings = 0
	}
	if current < 1 {
		current = 1
	}
	if current > totalPages {
		current = totalPages
	}

	lo := current - siblings
	hi := current + siblings
	if lo < 1 {
		lo = 1
	}
	if hi > totalPages {
		hi = totalPages
	}

	out := []int{1}
	switch {
	case lo > 3:
		out = append(out, Ellipsis)
	case lo == 3:
		out = append(out, 2)
	}
	for n := lo; n <= hi; n++ {
		if n != 1 && n != totalPages {
			out = append(out, n)
		}
	}
	switch {
	case hi < totalPages-2:
		out = append(out, Ellipsis)
	case hi == totalPages-2:
		out = append(out, totalPages-1)
	}
	if totalPages > 1 {
		out = append(out, totalPages)
	}
	return out
}

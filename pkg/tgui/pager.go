package tgui

import "fmt"

// Page describes one window over a list. Index is 0-based.
type Page struct {
	Index, Size, Total int
}

// Pages counts the pages; an empty list still has one.
func (p Page) Pages() int {
	if p.Size <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Clamp keeps Index inside the list.
func (p Page) Clamp() Page {
	if p.Size <= 0 {
		p.Size = 10
	}
	if p.Index >= p.Pages() {
		p.Index = p.Pages() - 1
	}
	if p.Index < 0 {
		p.Index = 0
	}
	return p
}

func (p Page) HasPrev() bool { return p.Index > 0 }
func (p Page) HasNext() bool { return p.Index+1 < p.Pages() }

// Label renders "Page 2/5".
func (p Page) Label() string { return fmt.Sprintf("Page %d/%d", p.Index+1, p.Pages()) }

// Paginate returns the items of page p after clamping it.
func Paginate[T any](items []T, p Page) ([]T, Page) {
	p.Total = len(items)
	p = p.Clamp()
	from := min(p.Index*p.Size, len(items))
	to := min(from+p.Size, len(items))
	return items[from:to], p
}

// ABOUTME: Pagination cursor kept in memory between ticks
// ABOUTME: Advances only on a processed page; Reset returns to the configured start page

package paged

import "sync"

// CursorState is a copy of the cursor fields.
type CursorState struct {
	CurrentPage       int
	PerPage           int
	MaxPagesPerTick   int
	PageTotal         int // 0 until the API reports it
	LastProcessedPage int // 0 until a page has been processed
	LastError         string
}

// Cursor tracks which page the next tick fetches.
type Cursor struct {
	mu sync.Mutex
	s  CursorState
}

// NewCursor starts at startPage.
func NewCursor(startPage, perPage, maxPagesPerTick int) *Cursor {
	return &Cursor{s: CursorState{
		CurrentPage:     startPage,
		PerPage:         perPage,
		MaxPagesPerTick: maxPagesPerTick,
	}}
}

// State returns a copy of the cursor.
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Exhausted reports whether every known page has been processed.
func (c *Cursor) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.PageTotal > 0 && c.s.CurrentPage > c.s.PageTotal
}

// UpdatePageTotal records the page count reported by the API. Non-positive
// values are ignored.
func (c *Cursor) UpdatePageTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total > 0 {
		c.s.PageTotal = total
	}
}

// MarkPageProcessed commits page and moves to the next one.
func (c *Cursor) MarkPageProcessed(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastProcessedPage = page
	c.s.CurrentPage = page + 1
	c.s.LastError = ""
}

// MarkError records a failure without moving the cursor.
func (c *Cursor) MarkError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastError = msg
}

// Reset returns to startPage and forgets what the API reported.
func (c *Cursor) Reset(startPage int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.CurrentPage = startPage
	c.s.LastProcessedPage = 0
	c.s.PageTotal = 0
	c.s.LastError = ""
}

// Package paged implements the polling agent for partner APIs that page
// their results behind a POST {page, per_page} endpoint.
//
// Each tick first checks the agent's database profile (if one is
// configured), then fetches up to max_pages_per_tick pages starting at the
// cursor. A processed page advances the cursor; a failed page leaves it in
// place so the next tick retries the same page. Stop rewinds the cursor to
// the configured start page. A forced stop after an unhandled failure does
// not.
//
// API and database failures are classified, published on the bus and
// handled here, so the manager never demotes the agent for them.
package paged

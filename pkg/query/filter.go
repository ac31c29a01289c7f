package query

import (
	"strings"
)

const (
	// DefaultPage is the page served when none is requested.
	DefaultPage = 1
	// DefaultLimit is the page size served when none is requested.
	DefaultLimit = 50
	// MaxLimit caps the page size a client may ask for.
	MaxLimit = 1000
)

// Params selects and pages enriched attempts.
type Params struct {
	Page     int
	Limit    int
	Probe    string
	Detector string
	HitsOnly bool
}

// Normalized returns p with page and limit clamped to usable values.
func (p Params) Normalized() Params {
	if p.Page < 1 {
		p.Page = DefaultPage
	}

	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}

	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	return p
}

// Match reports whether row passes every filter in p. Filters are
// independent and combine with AND.
func (p Params) Match(row *EnrichedAttempt) bool {
	if p.Probe != "" && !strings.Contains(row.Probe, p.Probe) {
		return false
	}

	if p.Detector != "" && row.Detector() != p.Detector {
		return false
	}

	if p.HitsOnly && !row.HasHit {
		return false
	}

	return true
}

// Filter returns the rows matching p, preserving order.
func Filter(rows []EnrichedAttempt, p Params) []EnrichedAttempt {
	out := make([]EnrichedAttempt, 0, len(rows))

	for i := range rows {
		if p.Match(&rows[i]) {
			out = append(out, rows[i])
		}
	}

	return out
}

// Paginate returns the 1-indexed page of rows of the given size. Pages
// past the end are empty.
func Paginate(rows []EnrichedAttempt, page, limit int) []EnrichedAttempt {
	if page < 1 || limit < 1 || page-1 > len(rows)/limit {
		return []EnrichedAttempt{}
	}

	start := (page - 1) * limit
	if start >= len(rows) {
		return []EnrichedAttempt{}
	}

	end := min(start+limit, len(rows))

	return rows[start:end]
}

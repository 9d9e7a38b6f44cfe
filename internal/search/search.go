package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSearchFailed marks any failure of the property search backend.
var ErrSearchFailed = errors.New("search failed")

// Query is a structured property search. Zero values mean "no constraint".
type Query struct {
	Text        string  `json:"query"`
	MaxPrice    float64 `json:"max_price,omitempty"`
	MinBedrooms int     `json:"min_bedrooms,omitempty"`
	City        string  `json:"city,omitempty"`
	Limit       int     `json:"limit,omitempty"`
}

// DefaultLimit is the number of results read back to a caller.
const DefaultLimit = 3

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Result is one ranked property listing.
type Result struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Bedrooms   int     `json:"bedrooms"`
	Bathrooms  float64 `json:"bathrooms"`
	SquareFeet int     `json:"square_feet"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	Score      float64 `json:"score"`
}

// Searcher returns results ordered best first.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Summarize renders results as the short numbered list handed back to the reasoning backend.
func Summarize(results []Result) string {
	if len(results) == 0 {
		return "No properties found matching those criteria."
	}
	var b strings.Builder
	b.WriteString("Found properties:")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s - $%s, %d bed, %s bath, %s, %s",
			i+1, r.Title, formatPrice(r.Price), r.Bedrooms, formatBaths(r.Bathrooms), r.City, r.State)
	}
	return b.String()
}

func formatPrice(p float64) string {
	digits := fmt.Sprintf("%.0f", p)
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func formatBaths(v float64) string {
	if v == float64(int(v)) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%.1f", v)
}

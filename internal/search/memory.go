package search

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Property is a listing held by the in-memory catalog.
type Property struct {
	ID          string
	Title       string
	Description string
	Price       float64
	Bedrooms    int
	Bathrooms   float64
	SquareFeet  int
	City        string
	State       string
}

// MemorySearcher ranks an in-process catalog by keyword overlap. It backs local runs and tests.
type MemorySearcher struct {
	catalog []Property
}

func NewMemorySearcher(catalog []Property) *MemorySearcher {
	if catalog == nil {
		catalog = SampleCatalog()
	}
	return &MemorySearcher{catalog: catalog}
}

func (s *MemorySearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(q.Text)
	var out []Result
	for _, p := range s.catalog {
		if q.MaxPrice > 0 && p.Price > q.MaxPrice {
			continue
		}
		if q.MinBedrooms > 0 && p.Bedrooms < q.MinBedrooms {
			continue
		}
		if q.City != "" && !strings.EqualFold(q.City, p.City) {
			continue
		}
		out = append(out, Result{
			ID:         p.ID,
			Title:      p.Title,
			Price:      p.Price,
			Bedrooms:   p.Bedrooms,
			Bathrooms:  p.Bathrooms,
			SquareFeet: p.SquareFeet,
			City:       p.City,
			State:      p.State,
			Score:      overlap(terms, tokenize(p.Title+" "+p.Description+" "+p.City)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// SampleCatalog returns a small demo catalog.
func SampleCatalog() []Property {
	listings := []Property{
		{Title: "Modern Downtown Condo", Description: "Two bedroom condo downtown with city views, rooftop pool and concierge", Price: 450000, Bedrooms: 2, Bathrooms: 2, SquareFeet: 1200, City: "Austin", State: "TX"},
		{Title: "Spacious Family Home", Description: "Four bedroom family house in a quiet suburb with large backyard and two car garage", Price: 650000, Bedrooms: 4, Bathrooms: 3, SquareFeet: 2800, City: "Austin", State: "TX"},
		{Title: "Cozy Starter Home", Description: "Three bedroom starter house, renovated bathroom, fenced backyard near parks", Price: 320000, Bedrooms: 3, Bathrooms: 1.5, SquareFeet: 1450, City: "Dallas", State: "TX"},
		{Title: "Uptown Townhouse", Description: "Three story townhouse in Uptown with private garage and patio", Price: 540000, Bedrooms: 3, Bathrooms: 2.5, SquareFeet: 2100, City: "Dallas", State: "TX"},
		{Title: "Lakeside Ranch House", Description: "Single level ranch house on the lake with dock and open floor plan", Price: 780000, Bedrooms: 4, Bathrooms: 3, SquareFeet: 3100, City: "Dallas", State: "TX"},
		{Title: "Historic Bungalow", Description: "Craftsman bungalow with original hardwood floors and front porch", Price: 395000, Bedrooms: 2, Bathrooms: 1, SquareFeet: 1100, City: "Houston", State: "TX"},
	}
	for i := range listings {
		listings[i].ID = strconv.Itoa(i + 1)
	}
	return listings
}

package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSearcher ranks the properties table with Postgres full-text search.
type PostgresSearcher struct {
	pool *pgxpool.Pool
}

func NewPostgresSearcher(pool *pgxpool.Pool) *PostgresSearcher {
	return &PostgresSearcher{pool: pool}
}

func (s *PostgresSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	var (
		maxPrice    *float64
		minBedrooms *int
		city        *string
	)
	if q.MaxPrice > 0 {
		maxPrice = &q.MaxPrice
	}
	if q.MinBedrooms > 0 {
		minBedrooms = &q.MinBedrooms
	}
	if c := strings.TrimSpace(q.City); c != "" {
		city = &c
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, price, bedrooms, bathrooms, square_feet, city, state,
		        ts_rank(search_document, websearch_to_tsquery('english', $1)) AS score
		 FROM properties
		 WHERE ($2::float8 IS NULL OR price <= $2)
		   AND ($3::int IS NULL OR bedrooms >= $3)
		   AND ($4::text IS NULL OR lower(city) = lower($4))
		 ORDER BY score DESC, price ASC
		 LIMIT $5`,
		q.Text, maxPrice, minBedrooms, city, q.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query properties: %v", ErrSearchFailed, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r  Result
			id int64
		)
		if err := rows.Scan(&id, &r.Title, &r.Price, &r.Bedrooms, &r.Bathrooms, &r.SquareFeet, &r.City, &r.State, &r.Score); err != nil {
			return nil, fmt.Errorf("%w: scan property: %v", ErrSearchFailed, err)
		}
		r.ID = strconv.FormatInt(id, 10)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate properties: %v", ErrSearchFailed, err)
	}
	return out, nil
}

// SeedIfEmpty loads catalog into an empty properties table and reports how many rows it copied.
func SeedIfEmpty(ctx context.Context, pool *pgxpool.Pool, catalog []Property) (int64, error) {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM properties)`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check properties: %w", err)
	}
	if exists || len(catalog) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"properties"},
		[]string{"title", "description", "price", "bedrooms", "bathrooms", "square_feet", "city", "state"},
		pgx.CopyFromSlice(len(catalog), func(i int) ([]any, error) {
			p := catalog[i]
			return []any{p.Title, p.Description, p.Price, p.Bedrooms, p.Bathrooms, p.SquareFeet, p.City, p.State}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("seed properties: %w", err)
	}
	return n, nil
}

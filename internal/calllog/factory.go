package calllog

import "github.com/jackc/pgx/v5/pgxpool"

// NewStore returns a Postgres store when a pool is available, otherwise an in-memory one.
func NewStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		return NewInMemoryStore()
	}
	return NewPostgresStore(pool)
}

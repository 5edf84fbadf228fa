package data

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds every single statement issued by the models.
const queryTimeout = 3 * time.Second

// PoolWrapper wraps a *pgxpool.Pool.
type PoolWrapper struct {
	Pool *pgxpool.Pool
}

// CreatePool creates a *pgxpool.Pool, pings it, and assigns it to the
// wrapper's Pool field. A bad DSN fails here, at startup.
func (pw *PoolWrapper) CreatePool(ctx context.Context, connString string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.New(ctx, connString)
	if err != nil {
		return err
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return err
	}

	pw.Pool = p
	return nil
}

// Close releases the pool. Safe on a wrapper that never connected.
func (pw *PoolWrapper) Close() {
	if pw.Pool != nil {
		pw.Pool.Close()
	}
}

// Ping reports whether the database is reachable, for readiness probes.
func (pw *PoolWrapper) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return pw.Pool.Ping(ctx)
}

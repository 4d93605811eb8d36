package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Goroutines fails when more than limit goroutines are running, which
// usually means a leak.
func Goroutines(limit int) Check {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// Postgres pings the pool and fails when every connection is busy.
func Postgres(pool *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping postgres")
		}
		if s := pool.Stat(); s.MaxConns() > 0 && s.AcquiredConns() >= s.MaxConns() && s.IdleConns() == 0 {
			return errors.Errorf("postgres pool exhausted (%d/%d)", s.AcquiredConns(), s.MaxConns())
		}
		return nil
	}
}

// Redis sends PING.
func Redis(client redis.UniversalClient) Check {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		return nil
	}
}

package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures one rate limit tier.
type RateLimitConfig struct {
	// Name identifies the tier in keys and logs, e.g. "general" or "checkout".
	Name string
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc extracts the client key from a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Store keeps the counters. Defaults to an in-process MemoryStore.
	Store Store
}

// Decision is the outcome of a single Store.Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key over a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// RateLimit returns a middleware that enforces a per-client sliding window
// limit. Rejected requests get 429 with a JSON body; every response carries
// the X-RateLimit-* headers. When the store fails the request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Max <= 0 || cfg.Window <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			key := cfg.Name + ":" + cfg.KeyFunc(r)
			d, err := cfg.Store.Allow(r.Context(), key, cfg.Max, cfg.Window, now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed",
					zap.String("tier", cfg.Name),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host of
// RemoteAddr, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window tracks counts for the current and the previous fixed window. The
// sliding count weighs the previous window by its remaining overlap.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// MemoryStore is a process-local Store. Counters of a single replica only.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, size time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Truncate(size)
	w, ok := s.windows[key]
	switch {
	case !ok:
		w = &window{currStart: start}
		s.windows[key] = w
	case start.Sub(w.currStart) >= 2*size:
		*w = window{currStart: start}
	case start.After(w.currStart):
		*w = window{prev: w.curr, currStart: start}
	}

	overlap := 1 - float64(now.Sub(w.currStart))/float64(size)
	count := w.prev*max(overlap, 0) + w.curr
	d := Decision{ResetAt: w.currStart.Add(size)}
	if count >= float64(limit) {
		return d, nil
	}

	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(limit)-count-1), 0)
	return d, nil
}

// Sweep drops counters idle for more than two windows of length size.
func (s *MemoryStore) Sweep(now time.Time, size time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		if now.Sub(w.currStart) >= 2*size {
			delete(s.windows, key)
		}
	}
}

// RunSweeper calls Sweep every other window until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, size time.Duration) {
	ticker := time.NewTicker(2 * size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now, size)
		}
	}
}

// RedisStore is a Store shared by all replicas. Each key is a sorted set of
// request timestamps.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore that namespaces its keys with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Allow implements Store.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, size time.Duration, now time.Time) (Decision, error) {
	redisKey := s.prefix + key
	cutoff := now.Add(-size).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, size)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, errors.Wrap(err, "redis rate limit")
	}

	count := int(card.Val())
	return Decision{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   now.Add(size),
	}, nil
}

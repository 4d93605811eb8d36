package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/grup/internal/api"
	"github.com/xenking/grup/internal/cache"
	"github.com/xenking/grup/internal/domain/checkout"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/repository"
	"github.com/xenking/grup/pkg/health"
	"github.com/xenking/grup/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.Readiness("postgres", health.Postgres(pool), health.WithTimeout(5*time.Second))
	healthSvc.Liveness("goroutines", health.Goroutines(10000))

	// Repositories.
	var products product.Repository = repository.NewProductRepository(pool)
	wallets := repository.NewWalletRepository(pool)
	orders := repository.NewOrderRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)

	// Redis: product cache and, optionally, shared rate limit counters.
	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		client, err := newRedis(ctx, cfg.Redis.URL, m)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				lg.Error("Close redis", zap.Error(err))
			}
		}()
		rdb = client

		healthSvc.Readiness("redis", health.Redis(client), health.WithTimeout(2*time.Second))
		products = cache.NewProducts(products, client, cfg.Redis.CacheTTL)
		lg.Info("Product cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	checkoutSvc, err := checkout.NewService(products, wallets, orders, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	// Rate limit tiers.
	var store httpmiddleware.Store
	if cfg.RateLimit.Shared {
		store = httpmiddleware.NewRedisStore(rdb, "grup:ratelimit:")
	} else {
		mem := httpmiddleware.NewMemoryStore()
		if w := max(cfg.RateLimit.General.Window, cfg.RateLimit.Checkout.Window); w > 0 {
			go mem.RunSweeper(ctx, w)
		}
		store = mem
	}
	generalLimit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Name:   "general",
		Max:    cfg.RateLimit.General.Max,
		Window: cfg.RateLimit.General.Window,
		Store:  store,
	})
	checkoutLimit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Name:   "checkout",
		Max:    cfg.RateLimit.Checkout.Max,
		Window: cfg.RateLimit.Checkout.Window,
		Store:  store,
	})

	// HTTP handlers.
	h := api.NewHandler(
		api.Config{
			ImageBaseURL:  cfg.ImageBaseURL,
			APIKeyPepper:  []byte(cfg.APIKeyPepper),
			CheckoutLimit: checkoutLimit,
		},
		products,
		wallets,
		checkoutSvc,
		apikeys,
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			otelServer(m),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           24 * time.Hour,
			}),
			generalLimit,
			routeSpan(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRedis connects to url with tracing and metrics attached.
func newRedis(ctx context.Context, url string, m *app.Telemetry) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)

	if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// otelServer traces every request.
func otelServer(m *app.Telemetry) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "grup-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method
			}),
		)
	}
}

// routeSpan renames the server span after the mux pattern that served the
// request. It must sit directly in front of the mux: ServeMux records the
// pattern on the request value it receives.
func routeSpan() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Pattern == "" {
				return
			}
			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Pattern)
			span.SetAttributes(attribute.String("http.route", r.Pattern))
		})
	}
}

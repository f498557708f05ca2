package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/apptremind/libs/auth"
	"github.com/md-rashed-zaman/apptremind/libs/config"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/libs/httpx"
	"github.com/md-rashed-zaman/apptremind/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptremind/libs/otel"
	"github.com/md-rashed-zaman/apptremind/libs/runtime"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/cancellation"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/feedback"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/invoices"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newGateway(logger *slog.Logger) payments.Gateway {
	key := config.String("STRIPE_SECRET_KEY", "")
	if key == "" {
		logger.Warn("STRIPE_SECRET_KEY not set; using local checkout gateway")
		return payments.NewLocalGateway(config.String("LOCAL_CHECKOUT_URL", ""))
	}
	return payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:  key,
		SuccessURL: config.String("STRIPE_SUCCESS_URL", "http://localhost:3000/appointments/paid"),
		CancelURL:  config.String("STRIPE_CANCEL_URL", "http://localhost:3000/appointments/cancelled"),
	})
}

func newVerifier() *auth.Verifier {
	var jwks *auth.JWKSClient
	if url := config.String("AUTH_JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, 10*time.Minute)
	}
	return auth.NewVerifier(config.String("AUTH_JWT_SECRET", ""), jwks)
}

// Gateways retry signed callbacks on their own schedule.
var rateLimitExempt = []string{"/api/v1/payments/callback", "/api/v1/payments/webhooks/", "/healthz", "/readyz", "/metrics"}

// rateLimit prefers a shared Redis window and falls back to a per-process one.
// The returned client is nil when no Redis is in use.
func rateLimit(ctx context.Context, logger *slog.Logger, failOpen bool) (httpx.Middleware, *redis.Client) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		logger.Warn("invalid RATE_LIMIT_PER_MINUTE; using default", "err", err)
		limit = 120
	}
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewRateLimiter(limit, time.Minute, rateLimitExempt...).Middleware(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable; rate limiting per process", "addr", addr, "err", err)
		_ = rdb.Close()
		return httpx.NewRateLimiter(limit, time.Minute, rateLimitExempt...).Middleware(), nil
	}
	rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "booking", rateLimitExempt...)
	return rl.Middleware(logger, failOpen), rdb
}

// redisReadyCheck only fails readiness when the limiter fails closed.
func redisReadyCheck(rdb *redis.Client, failOpen bool) runtime.ReadyCheck {
	return runtime.ReadyCheck{
		Name:     "redis",
		Optional: failOpen,
		Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
}

type serverLimits struct {
	MaxBodyBytes   int64
	HandlerTimeout time.Duration
}

func loadLimits() (serverLimits, error) {
	maxBody, err := config.Int("HTTP_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return serverLimits{}, err
	}
	timeout, err := config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)
	if err != nil {
		return serverLimits{}, err
	}
	return serverLimits{MaxBodyBytes: int64(maxBody), HandlerTimeout: timeout}, nil
}

func newHTTPHandler(mux http.Handler, logger *slog.Logger, limiter httpx.Middleware, origins []string, lim serverLimits) http.Handler {
	h := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(origins)),
		limiter,
		httpx.WithBodyLimit(lim.MaxBodyBytes),
		httpx.WithTimeout(lim.HandlerTimeout),
	)
	return otelhttp.NewHandler(h, "booking")
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := runtime.ShutdownContext(5 * time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	store := storage.New()
	events := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, events, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	m := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	checker := availability.NewChecker(store)
	policy := cancellation.NewPolicy(store, events, m)
	machine := lifecycle.NewMachine(pool, store, checker, policy, events, m, logger)

	stripeTolerance, err := config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		panic(err)
	}
	router := handlers.NewRouter(handlers.Config{
		Bookings:  booking.NewService(pool, store, checker, events, m, logger),
		Lifecycle: machine,
		Payments: payments.NewReconciler(pool, store, machine, newGateway(logger), events, m, logger, payments.Config{
			Currency: strings.ToLower(config.String("PAYMENT_CURRENCY", "usd")),
		}),
		Cancellations: cancellation.NewWorkflow(pool, store, machine, events, m, logger),
		Invoices:      invoices.NewAggregator(pool, store),
		Feedback:      feedback.NewGate(pool, store, events, m, logger),
		Verifier:      newVerifier(),
		Webhooks: handlers.WebhookConfig{
			CallbackSecret:  config.String("PAYMENT_CALLBACK_SECRET", ""),
			StripeSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
			StripeTolerance: stripeTolerance,
		},
		Logger: logger,
	})

	limits, err := loadLimits()
	if err != nil {
		panic(err)
	}
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	limiter, rdb := rateLimit(ctx, logger, failOpen)
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, redisReadyCheck(rdb, failOpen))
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/", router)

	httpHandler := newHTTPHandler(mux, logger, limiter, config.List("CORS_ALLOWED_ORIGINS"), limits)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := runtime.ShutdownContext(10 * time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

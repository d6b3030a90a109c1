package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/config"
	"github.com/md-rashed-zaman/flowrunner/libs/db"
	"github.com/md-rashed-zaman/flowrunner/libs/grpcx"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/kafkax"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	otelx "github.com/md-rashed-zaman/flowrunner/libs/otel"
	"github.com/md-rashed-zaman/flowrunner/libs/runtime"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/md-rashed-zaman/flowrunner/services/api-service/internal/handlers"
	"github.com/md-rashed-zaman/flowrunner/services/api-service/internal/outbox"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	Service            string        `env:"SERVICE_NAME" envDefault:"api-service"`
	Port               string        `env:"PORT" envDefault:"8080"`
	GRPCPort           string        `env:"GRPC_PORT" envDefault:"9090"`
	DatabaseURL        string        `env:"DATABASE_URL,required"`
	Migrate            bool          `env:"DB_MIGRATE" envDefault:"false"`
	APIKey             string        `env:"API_KEY"`
	KafkaBrokers       string        `env:"KAFKA_BROKERS"`
	KafkaTopic         string        `env:"KAFKA_TOPIC" envDefault:"workflow.events.v1"`
	OutboxPollEvery    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitFailOpen  bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	BodyLimitBytes     int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if _, err := config.Port("PORT", cfg.Port); err != nil {
		panic(err)
	}
	if _, err := config.Port("GRPC_PORT", cfg.GRPCPort); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.Migrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			logger.Error("db migrate failed", "err", err)
			panic(err)
		}
		logger.Info("db migrated", "applied", applied)
	}

	repo := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, repo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		Topic:     cfg.KafkaTopic,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := kafkax.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cfg.KafkaTopic)})
	}

	limiter, closeLimiter := newLimiter(cfg)
	defer closeLimiter()
	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set; api authentication disabled")
	}

	api := handlers.New(
		workflows.NewPostgresStore(pool),
		ledger.NewPostgresStore(pool),
		outbox.NewEnqueuer(pool, repo),
		logger,
	)
	mux := runtime.NewBaseMuxWithReady(checks...)
	api.Register(mux, func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			httpx.WithAPIKey(cfg.APIKey),
			httpx.WithRateLimit(limiter, logger, cfg.RateLimitFailOpen),
		)
	})

	root := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(root, "api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, hs := grpcx.NewServer(logger)
	go grpcx.WatchHealth(ctx, hs, 5*time.Second, db.ReadyCheck(pool))
	go func() {
		if err := grpcx.Serve(ctx, logger, grpcSrv, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	if err := runtime.ServeHTTP(ctx, logger, srv); err != nil {
		logger.Error("http server failed", "err", err)
	}
}

// newLimiter prefers the shared Redis window when REDIS_ADDR is set so limits
// hold across replicas.
func newLimiter(cfg Config) (httpx.Limiter, func()) {
	window := time.Minute
	if cfg.RedisAddr == "" {
		return httpx.NewMemoryRateLimiter(cfg.RateLimitPerMinute, window), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, window, "ratelimit:api"), func() { _ = rdb.Close() }
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/auth"
	"github.com/md-rashed-zaman/flowrunner/libs/config"
	"github.com/md-rashed-zaman/flowrunner/libs/db"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	otelx "github.com/md-rashed-zaman/flowrunner/libs/otel"
	"github.com/md-rashed-zaman/flowrunner/libs/runtime"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/engine"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/metrics"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/push"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/resolver"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	Service          string        `env:"SERVICE_NAME" envDefault:"worker-service"`
	Port             string        `env:"PORT" envDefault:"8090"`
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	Migrate          bool          `env:"DB_MIGRATE" envDefault:"false"`
	DBMaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	ActionTimeout    time.Duration `env:"ACTION_TIMEOUT" envDefault:"10s"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	StaleAfter       time.Duration `env:"PENDING_STALE_AFTER" envDefault:"0s"`
	PushSecret       string        `env:"PUSH_AUTH_SECRET"`
	PushAudience     string        `env:"PUSH_AUTH_AUDIENCE" envDefault:"worker-service"`
	BodyLimitBytes   int64         `env:"REQUEST_BODY_LIMIT_BYTES" envDefault:"1048576"`
	WebhookURL       string        `env:"WEBHOOK_ACTION_URL"`
	WebhookToken     string        `env:"WEBHOOK_ACTION_TOKEN"`
	EventTypeActions string        `env:"EVENT_TYPE_ACTIONS"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if _, err := config.Port("PORT", cfg.Port); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg := otelx.ConfigFromEnv(cfg.Service)
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer shutdownWithTimeout(otelShutdown)
	}
	meterProvider, metricsShutdown, err := otelx.SetupMetrics(ctx, otelCfg)
	if err != nil {
		logger.Error("metrics setup failed", "err", err)
		panic(err)
	}
	defer shutdownWithTimeout(metricsShutdown)

	workerMetrics, err := metrics.New(meterProvider)
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.DBMaxConns})
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

	registry := actions.NewRegistry(
		actions.NewLogAction(logger),
		actions.NoopAction{},
		actions.NewWebhookAction(cfg.WebhookURL, cfg.WebhookToken),
	)
	if err := bindEventTypes(registry, cfg.EventTypeActions); err != nil {
		panic(err)
	}

	eng := engine.New(ledger.NewPostgresStore(pool), workerMetrics, logger, engine.Config{
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.ActionTimeout,
		StaleAfter:  cfg.StaleAfter,
	})
	handler := push.NewHandler(resolver.New(workflows.NewPostgresStore(pool)), registry, eng, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	handler.Register(mux, auth.RequirePushToken(auth.PushTokenConfig{
		Secret:   []byte(cfg.PushSecret),
		Audience: cfg.PushAudience,
	}))

	root := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(root, "worker"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("worker configured",
		"actions", registry.Names(),
		"max_attempts", eng.Config().MaxAttempts,
		"action_timeout", eng.Config().Timeout.String(),
		"push_auth", cfg.PushSecret != "",
	)
	if err := runtime.ServeHTTP(ctx, logger, srv); err != nil {
		logger.Error("http server failed", "err", err)
	}
}

func shutdownWithTimeout(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fn(ctx)
}

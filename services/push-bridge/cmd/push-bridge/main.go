package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/auth"
	"github.com/md-rashed-zaman/flowrunner/libs/config"
	"github.com/md-rashed-zaman/flowrunner/libs/httpx"
	"github.com/md-rashed-zaman/flowrunner/libs/kafkax"
	otelx "github.com/md-rashed-zaman/flowrunner/libs/otel"
	"github.com/md-rashed-zaman/flowrunner/libs/runtime"
	"github.com/md-rashed-zaman/flowrunner/services/push-bridge/internal/bridge"
)

type Config struct {
	Service       string        `env:"SERVICE_NAME" envDefault:"push-bridge"`
	Port          string        `env:"PORT" envDefault:"8091"`
	KafkaBrokers  string        `env:"KAFKA_BROKERS,required"`
	KafkaTopic    string        `env:"KAFKA_TOPIC" envDefault:"workflow.events.v1"`
	KafkaGroupID  string        `env:"KAFKA_GROUP_ID" envDefault:"push-bridge"`
	PushEndpoint  string        `env:"PUSH_ENDPOINT,required"`
	PushSecret    string        `env:"PUSH_AUTH_SECRET"`
	PushAudience  string        `env:"PUSH_AUTH_AUDIENCE" envDefault:"worker-service"`
	PushTimeout   time.Duration `env:"PUSH_TIMEOUT" envDefault:"30s"`
	Subscription  string        `env:"SUBSCRIPTION" envDefault:"projects/local/subscriptions/workflow-worker"`
	RetryInitial  time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMax      time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
	RetryMaxTotal time.Duration `env:"RETRY_MAX_ELAPSED" envDefault:"10m"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if _, err := config.Port("PORT", cfg.Port); err != nil {
		panic(err)
	}
	brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		panic(errors.New("KAFKA_BROKERS has no brokers"))
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

	tokens := auth.PushTokenConfig{Secret: []byte(cfg.PushSecret), Audience: cfg.PushAudience}
	if !tokens.Enabled() {
		logger.Warn("PUSH_AUTH_SECRET not set; pushes are unauthenticated")
	}

	reader := kafkax.NewReader(kafkax.ReaderConfig{
		Brokers: brokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaTopic,
	})
	b := bridge.New(reader, bridge.NewDeliverer(cfg.PushEndpoint, tokens, cfg.PushTimeout), logger, cfg.Subscription, bridge.RetryConfig{
		InitialInterval: cfg.RetryInitial,
		MaxInterval:     cfg.RetryMax,
		MaxElapsed:      cfg.RetryMaxTotal,
	})
	go b.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cfg.KafkaTopic)},
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpx.Chain(mux, httpx.WithRequestID, httpx.WithAccessLog(logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("push bridge configured",
		"topic", cfg.KafkaTopic,
		"group_id", cfg.KafkaGroupID,
		"endpoint", cfg.PushEndpoint,
		"push_auth", tokens.Enabled(),
	)
	if err := runtime.ServeHTTP(ctx, logger, srv); err != nil {
		logger.Error("http server failed", "err", err)
	}
}

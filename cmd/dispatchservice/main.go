package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ridedispatch/internal/config"
	"github.com/example/ridedispatch/internal/dispatch"
	etahandler "github.com/example/ridedispatch/internal/eta/handler"
	etasvc "github.com/example/ridedispatch/internal/eta/service"
	"github.com/example/ridedispatch/internal/http/middleware"
	"github.com/example/ridedispatch/internal/outbox"
	"github.com/example/ridedispatch/internal/ride/handler"
	"github.com/example/ridedispatch/internal/ride/matching"
	"github.com/example/ridedispatch/internal/ride/notify"
	"github.com/example/ridedispatch/internal/ride/pricing"
	"github.com/example/ridedispatch/internal/ride/repository"
	"github.com/example/ridedispatch/pkg/events"
	"github.com/example/ridedispatch/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cfgErr := config.Load()

	logger := observability.SetupLogger("dispatch-service", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	if cfgErr != nil {
		logger.Error("invalid configuration", zap.Error(cfgErr))
		os.Exit(1)
	}

	shutdown, err := observability.SetupTracer(ctx, "dispatch-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchservice")); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	opts := dispatch.Options{
		Logger:    logger,
		Pricing:   pricing.StandardCatalog(cfg.Fare),
		Listeners: []notify.Listener{notify.NewLogListener(logger.Named("notify"))},
	}
	if redisClient != nil {
		opts.Mirror = matching.NewRedisMirror(redisClient, cfg.RedisGeoKey)
	}
	// The relay outlives the HTTP server so events from in-flight requests
	// are drained before the NATS connection closes.
	stopRelay := func(context.Context) error { return nil }
	if natsConn != nil {
		opts.Listeners = append(opts.Listeners, notify.NewNATSListener(natsConn, cfg.NotifySubject))
		relay := outbox.NewRelay(events.NewPublisher(natsConn, cfg.EventsSubject), logger.Named("outbox"), outbox.Config{DrainTimeout: cfg.ShutdownTimeout})
		opts.Events = relay
		stopRelay = relay.Start()
	} else {
		logger.Warn("nats disabled; driver notifications and ride events stay local")
	}

	controller := dispatch.New(opts)
	rideHTTP := handler.NewHTTP(controller, repository.NewMemoryIdempotencyRepo())

	var throttle *middleware.Throttle
	if redisClient != nil {
		throttle = middleware.NewThrottle(redisClient, middleware.RateConfig{Rate: cfg.ThrottleRate, Burst: cfg.ThrottleBurst}, logger.Named("throttle"))
	}

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter())
	r.Handle("/v1/eta", etahandler.New(etasvc.New(controller, etasvc.DefaultSpeeds)).Router())
	r.Group(func(r chi.Router) {
		r.Use(throttle.Middleware)
		r.Mount("/", rideHTTP.Router())
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatch service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if err := stopRelay(drainCtx); err != nil {
		logger.Warn("outbox relay did not drain", zap.Error(err))
	}
}

// betselectd serves risk-filtered bet selection over HTTP and streams
// rejections to WebSocket clients and, optionally, Redis Streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/api"
	"github.com/phenomenon0/betting-analytics/pkg/betting"
	"github.com/phenomenon0/betting-analytics/pkg/config"
	"github.com/phenomenon0/betting-analytics/pkg/logging"
	"github.com/phenomenon0/betting-analytics/pkg/metrics"
	"github.com/phenomenon0/betting-analytics/pkg/streaming"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// Flags
	configPath = flag.String("config", "", "Path to config file (default: ./config.yaml if present)")
	httpAddr   = flag.String("http", "", "HTTP server address (overrides server.addr)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}

	log, err := logging.New(cfg.Server.ServiceName, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(finish(log, run(cfg, log)))
}

// finish logs err and flushes the logger, returning the process exit code.
func finish(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("betselectd stopped with error", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewSelectorMetrics()

	hub := streaming.NewHub(
		streaming.WithLogger(log.Named("stream")),
		streaming.WithHeartbeat(cfg.Stream.HeartbeatInterval),
		streaming.WithClientCountHook(m.UpdateStreamClients),
	)
	go hub.Run(ctx)

	emitters := betting.MultiEmitter{m, hub}

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		redisEmitter := streaming.NewRedisEmitter(redisClient,
			streaming.WithStreamPrefix(cfg.Redis.StreamPrefix),
			streaming.WithPublishTimeout(cfg.Redis.PublishTimeout),
			streaming.WithRedisLogger(log.Named("redis")),
			streaming.WithFailureHook(func(error) { m.RecordPublishFailure("redis") }),
		)
		go redisEmitter.Run(ctx)
		emitters = append(emitters, redisEmitter)

		log.Info("publishing events to redis", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.StreamPrefix))
	}

	selector := betting.NewSelector(
		betting.NewRiskValidator(
			betting.WithValidatorErrorHandler(logging.NewErrorHandler(log.Named("validator"), m)),
		),
		emitters,
		logging.NewErrorHandler(log.Named("selector"), m),
		m,
	)

	srv := api.New(api.Options{
		Selector:       selector,
		Profiles:       cfg,
		Metrics:        m,
		Hub:            hub,
		Logger:         log.Named("http"),
		RateLimit:      cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("default_profile", cfg.Selection.DefaultProfile),
			zap.Strings("profiles", cfg.ProfileNames()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	for _, s := range selector.Models().Snapshot() {
		log.Info("model summary",
			zap.String("model", s.Model),
			zap.Int("wins", s.Wins),
			zap.Int("losses", s.Losses),
			zap.String("profit", s.Profit.StringFixed(2)),
			zap.String("roi", s.ROI.StringFixed(4)),
		)
	}
	return nil
}

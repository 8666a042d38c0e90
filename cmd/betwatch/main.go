// betwatch tails a betselectd event stream and logs each event.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/logging"
	"github.com/phenomenon0/betting-analytics/pkg/streaming"

	"go.uber.org/zap"
)

var (
	url        = flag.String("url", "ws://localhost:8080/ws", "betselectd WebSocket URL")
	events     = flag.String("events", "", "Comma-separated event types (default: all)")
	env        = flag.String("env", "local", "Logging environment (local = console output)")
	maxRetries = flag.Int("max-retries", 0, "Reconnect attempts before giving up (0 = unlimited)")
)

func main() {
	flag.Parse()

	log, err := logging.New("betwatch", *env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cfg := streaming.DefaultSubscriberConfig(*url)
	cfg.ReconnectMaxAttempts = *maxRetries
	cfg.Logger = log.Named("subscriber")
	for _, name := range strings.Split(*events, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.EventTypes = append(cfg.EventTypes, streaming.EventType(name))
		}
	}

	code := 1
	sub := streaming.NewSubscriber(cfg)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = sub.Connect(connectCtx)
	cancel()
	if err != nil {
		log.Error("failed to connect", zap.String("url", *url), zap.Error(err))
	} else {
		log.Info("watching stream", zap.String("url", *url))
		code = watch(ctx, sub, log)
		sub.Close()
	}

	stop()
	_ = log.Sync()
	os.Exit(code)
}

// watch logs events until ctx is done or the subscriber stops. It returns
// non-zero when the subscriber stopped on its own.
func watch(ctx context.Context, sub *streaming.Subscriber, log *zap.Logger) int {
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping", zap.Int64("dropped", sub.Dropped()))
			return 0
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				log.Error("stream lost", zap.Error(err), zap.Int64("dropped", sub.Dropped()))
				return 1
			}
			return 0
		case ev := <-sub.Events():
			logEvent(log, ev)
		}
	}
}

func logEvent(log *zap.Logger, ev streaming.ReceivedEvent) {
	if ev.Type == streaming.EventTypeValidationFailed {
		if p, err := ev.ValidationFailed(); err == nil {
			log.Info("bet rejected",
				zap.String("event_id", p.Opportunity.EventID),
				zap.String("sport", p.Opportunity.Sport),
				zap.String("reason", p.Reason),
			)
			return
		}
	}
	log.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("id", ev.ID),
		zap.Time("timestamp", ev.Timestamp),
		zap.ByteString("data", ev.Data),
	)
}

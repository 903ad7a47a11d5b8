package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cleaninghouse/escrow/internal/config"
	"github.com/cleaninghouse/escrow/internal/db"
	"github.com/cleaninghouse/escrow/internal/events"
	"github.com/cleaninghouse/escrow/internal/services"
	"go.uber.org/zap"
)

// Notify Bridge subscribes to user notifications on Redis and forwards them
// to the notification dispatcher webhook.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	dispatcher := services.NewDispatchClient(cfg.NotifyWebhookURL, log)

	log.Info("notify-bridge started", zap.String("webhook", cfg.NotifyWebhookURL))

	err = subscriber.Subscribe(ctx, events.StreamNotify, func(event events.Event) {
		if err := dispatcher.Send(ctx, event); err != nil {
			// доставка best-effort, повторов нет
			log.Warn("failed to forward notification",
				zap.String("type", event.Type),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
			return
		}
		log.Debug("notification forwarded", zap.String("type", event.Type), zap.String("user_id", event.UserID))
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

package main

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/auth"
	"github.com/rmehta/coursetalk/pkg/config"
	"github.com/rmehta/coursetalk/pkg/events"
	"github.com/rmehta/coursetalk/pkg/presence"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	coord := presence.NewCoordinator(cfg.TypingWindow, rdb, logger)
	go coord.Run(ctx)

	// Unique group id per instance: every gateway sees every event and fans
	// it out to its own connections.
	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.EventsTopic, "gateway-"+uuid.NewString(), logger)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx, coord.Deliver); err != nil && ctx.Err() == nil {
			logger.Error("event consumer stopped", zap.Error(err))
		}
	}()

	tokens := auth.NewTokenManager(cfg.JWTSecret)
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(coord, tokens, logger, w, r)
	})

	logger.Info("gateway service starting", zap.String("addr", cfg.GatewayAddr))
	if err := http.ListenAndServe(cfg.GatewayAddr, nil); err != nil {
		logger.Fatal("gateway server exited", zap.Error(err))
	}
}

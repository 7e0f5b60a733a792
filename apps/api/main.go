package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/auth"
	"github.com/rmehta/coursetalk/pkg/chat"
	"github.com/rmehta/coursetalk/pkg/config"
	"github.com/rmehta/coursetalk/pkg/db"
	"github.com/rmehta/coursetalk/pkg/events"
	"github.com/rmehta/coursetalk/pkg/group"
	"github.com/rmehta/coursetalk/pkg/snowflake"
	"github.com/rmehta/coursetalk/pkg/store"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Fatal("failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal("failed to initialize snowflake node", zap.Error(err))
	}

	pub := events.NewPublisher(cfg.KafkaBrokers, cfg.EventsTopic, logger)
	defer pub.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	st := store.New(session)
	srv := &server{
		chat:   chat.NewService(st, pub, node, logger),
		groups: group.NewManager(st, logger),
		redis:  rdb,
		tokens: auth.NewTokenManager(cfg.JWTSecret),
		log:    logger,
	}

	r := chi.NewRouter()
	r.Use(corsMiddleware)
	srv.routes(r)

	logger.Info("api service starting", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, r); err != nil {
		logger.Fatal("api server exited", zap.Error(err))
	}
}

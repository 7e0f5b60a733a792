package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/config"
	"github.com/rmehta/coursetalk/pkg/db"
	"github.com/rmehta/coursetalk/pkg/group"
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

	mgr := group.NewManager(store.New(session), logger)

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.RosterTopic, "roster-service-group", mgr, logger)
	defer consumer.Close()

	logger.Info("roster consumer starting", zap.String("topic", cfg.RosterTopic))
	if err := consumer.Consume(context.Background()); err != nil {
		logger.Fatal("roster consumer exited", zap.Error(err))
	}
}

package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
)

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
}

// NewConsumer builds a reader for the event topic. Each gateway instance
// uses its own group id so every instance sees every event (fanout, not
// work sharing).
func NewConsumer(brokers []string, topic, groupID string, log *zap.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    10e3,
			MaxBytes:    10e6,
		}),
		log: log,
	}
}

// Run reads events until ctx is canceled, invoking handle for each.
// Malformed payloads are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle func(model.Event)) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		handle(ev)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

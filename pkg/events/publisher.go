// Package events carries live-push envelopes between the API service and
// the gateway over Kafka. Delivery is fire-and-forget: correctness depends
// only on the durable store, the push is an optimization.
package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/model"
)

type Publisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewPublisher(brokers []string, topic string, log *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		log: log,
	}
}

// Publish sends one event, keyed by conversation so per-conversation
// ordering is preserved across partitions.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: raw,
		Time:  ev.Timestamp,
	})
	if err != nil {
		p.log.Warn("event publish failed",
			zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

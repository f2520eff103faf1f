// Package events publishes contact lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"identify/internal/contact/models"
)

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes ContactEvents as JSON records keyed by primary id,
// so every event of one cluster lands on the same partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

// NewKafka creates a publisher writing to topic.
func NewKafka(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish blocks until the broker acknowledges the record.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.ContactEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal contact event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(event.PrimaryID, 10)),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce contact event: %w", err)
	}
	return nil
}

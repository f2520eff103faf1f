package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"identify/internal/platform/config"
)

// Client wraps a franz-go client bound to a default produce topic.
type Client struct {
	*kgo.Client
	topic string
}

// New creates a Kafka client from the provided configuration.
// Returns nil if no brokers are configured.
func New(ctx context.Context, cfg config.KafkaConfig) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return &Client{Client: cl, topic: cfg.Topic}, nil
}

// Topic returns the default produce topic.
func (c *Client) Topic() string {
	return c.topic
}

// EnsureTopic creates the default topic, tolerating one that already exists.
func (c *Client) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(c.Client)
	resps, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, c.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Health checks broker reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx)
}

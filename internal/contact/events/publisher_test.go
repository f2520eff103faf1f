package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"identify/internal/contact/models"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewKafka(producer, "contact-events")

	linked := int64(1)
	c := &models.Contact{
		ID:             2,
		Email:          models.OptionalString("b@x.io"),
		LinkPrecedence: models.PrecedenceSecondary,
		LinkedID:       &linked,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), models.NewContactCreatedEvent(c, "req-1")))

	require.Len(t, producer.records, 1)
	rec := producer.records[0]
	assert.Equal(t, "contact-events", rec.Topic)
	assert.Equal(t, "1", string(rec.Key), "keyed by primary id")

	var got models.ContactEvent
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, models.EventContactCreated, got.Type)
	assert.Equal(t, int64(2), got.ContactID)
	assert.Equal(t, int64(1), got.PrimaryID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Nil(t, got.PhoneNumber)
}

func TestKafkaPublisher_PropagatesProduceError(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker not available")}
	pub := NewKafka(producer, "contact-events")

	c := &models.Contact{ID: 1, PhoneNumber: models.OptionalString("123"), LinkPrecedence: models.PrecedencePrimary}
	err := pub.Publish(context.Background(), models.NewContactCreatedEvent(c, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produce contact event")
}

package events

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/jmsadair/roster/registry"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	kindHeader         = "kind"
	maxBufferedRecords = 10000
)

// Kafka publishes events to a Kafka topic.
// Records are keyed by event timestamp. Every replica of a replicated registry publishes the
// events it applies, so consumers should treat the key as an idempotency key.
type Kafka struct {
	client *kgo.Client
	topic  string
	log    *slog.Logger
}

// NewKafka creates a publisher for the topic using the provided seed brokers.
func NewKafka(brokers []string, topic string, log *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.MaxBufferedRecords(maxBufferedRecords),
	)
	if err != nil {
		return nil, err
	}
	return &Kafka{client: client, topic: topic, log: log.With("component", "kafka", "topic", topic)}, nil
}

// Record publishes the event asynchronously and never waits for buffer space. If the client
// already holds the maximum number of undelivered records the event is dropped. Delivery
// failures, including dropped events, are logged.
func (k *Kafka) Record(event registry.Event) {
	k.client.TryProduce(context.Background(), newKafkaRecord(event), func(r *kgo.Record, err error) {
		if err != nil {
			k.log.Error(
				"failed to publish event",
				"error",
				err.Error(),
				"kind",
				event.Kind.String(),
				"timestamp",
				event.Timestamp,
			)
		}
	})
}

// Close waits for buffered records to be delivered and then closes the client.
func (k *Kafka) Close(ctx context.Context) error {
	defer k.client.Close()
	return k.client.Flush(ctx)
}

func newKafkaRecord(event registry.Event) *kgo.Record {
	key := make([]byte, timestampLen)
	binary.BigEndian.PutUint64(key, uint64(event.Timestamp))
	return &kgo.Record{
		Key:     key,
		Value:   event.Bytes(),
		Headers: []kgo.RecordHeader{{Key: kindHeader, Value: []byte(event.Kind.String())}},
	}
}

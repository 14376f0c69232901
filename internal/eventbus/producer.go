// Package eventbus publishes decision events to Kafka.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaProducer is a synchronous Kafka producer for decision events.
// Idempotence with a single in-flight request keeps per-key ordering intact
// across broker retries.
type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// producerConfig is the zero-loss producer profile: acks from all in-sync
// replicas, idempotent writes, bounded retries.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "fraudengine"
	cfg.Version = sarama.V2_1_0_0
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Timeout = 10 * time.Second
	cfg.Producer.Return.Successes = true
	return cfg
}

// NewKafkaProducer connects to the brokers and verifies the cluster accepts
// the producer session.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to brokers %v: %w", brokers, err)
	}

	slog.Info("[EventBus] Kafka producer connected", "brokers", brokers, "topic", topic)
	return &KafkaProducer{producer: producer, topic: topic}, nil
}

// Publish sends one record and waits for the broker acknowledgement. The
// sync producer has no per-call deadline; delivery waits are bounded by the
// retry and timeout configuration.
func (p *KafkaProducer) Publish(_ context.Context, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("eventbus: publish key %s: %w", key, err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

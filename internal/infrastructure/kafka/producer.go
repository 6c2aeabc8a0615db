package kafka

import (
	"context"
	"encoding/json"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	TopicChatMessages     = "chat-messages"
	TopicConnectionStatus = "connection-status"
)

// KafkaProducer publishes the audit stream of persisted messages and presence
// transitions for other services.
type KafkaProducer struct {
	Writer *kafka.Writer
	log    zerolog.Logger
}

func NewKafkaProducer(brokers []string, log zerolog.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaProducer{Writer: writer, log: observability.Component(log, "kafka_producer")}
}

// connectionStatus is the record written to the connection-status topic.
type connectionStatus struct {
	IdentityID   string    `json:"identityId"`
	ConnectionID string    `json:"connectionId"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// PublishMessage is keyed by conversation so a conversation stays on one partition.
func (k *KafkaProducer) PublishMessage(ctx context.Context, msg domain.Message) error {
	return k.send(ctx, TopicChatMessages, msg.ConversationKey, msg)
}

func (k *KafkaProducer) PublishPresence(ctx context.Context, ev domain.PresenceEvent) error {
	return k.send(ctx, TopicConnectionStatus, ev.IdentityID, connectionStatus{
		IdentityID:   ev.IdentityID,
		ConnectionID: ev.ConnectionID,
		Status:       ev.Status,
		Timestamp:    ev.Timestamp,
	})
}

func (k *KafkaProducer) send(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	err = k.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		k.log.Warn().Err(err).Str("topic", topic).Msg("failed to send message to kafka")
		return err
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.Writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"realtime-ws/internal/domain"
	"realtime-ws/internal/observability"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	TopicServiceRequests = "service-requests"
	TopicIdentityEvents  = "identity-events"
)

// DomainEventHandler reacts to events from the platform's other services.
type DomainEventHandler interface {
	HandleRequestAccepted(ctx context.Context, ev domain.RequestAcceptedEvent) error
	HandleRequestCreated(ctx context.Context, ev domain.RequestCreatedEvent) error
	HandleIdentityUpserted(ctx context.Context, identity domain.Identity) error
}

type KafkaConsumer struct {
	readers []*kafka.Reader
	handler DomainEventHandler
	log     zerolog.Logger
}

func NewKafkaConsumer(brokers []string, groupID string, topics []string, handler DomainEventHandler, log zerolog.Logger) *KafkaConsumer {
	var readers []*kafka.Reader

	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			MaxWait:        100 * time.Millisecond,
		})
		readers = append(readers, reader)
	}

	return &KafkaConsumer{
		readers: readers,
		handler: handler,
		log:     observability.Component(log, "kafka_consumer"),
	}
}

// Start reads every topic in its own goroutine until ctx is done.
func (k *KafkaConsumer) Start(ctx context.Context) error {
	for i := range k.readers {
		go k.consume(ctx, k.readers[i])
	}
	return nil
}

func (k *KafkaConsumer) consume(ctx context.Context, reader *kafka.Reader) {
	topic := reader.Config().Topic
	defer func() {
		if r := recover(); r != nil {
			k.log.Error().Interface("panic", r).Str("topic", topic).Msg("recovered from panic in kafka consumer")
		}
	}()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				k.log.Info().Str("topic", topic).Msg("kafka consumer stopping")
				return
			}
			if errors.Is(err, kafka.RebalanceInProgress) || errors.Is(err, kafka.LeaderNotAvailable) {
				k.log.Debug().Err(err).Str("topic", topic).Msg("kafka group not ready, retrying")
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			k.log.Error().Err(err).Str("topic", topic).Msg("error reading kafka message")
			time.Sleep(time.Second)
			continue
		}

		if err := k.Dispatch(ctx, m.Value); err != nil {
			k.log.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("domain event not handled")
		}
	}
}

// Dispatch decodes one domain event envelope and hands it to the handler.
// Unknown event types are ignored.
func (k *KafkaConsumer) Dispatch(ctx context.Context, value []byte) error {
	var ev domain.DomainEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("decode domain event: %w", err)
	}

	switch ev.Type {
	case domain.DomainRequestAccepted:
		var accepted domain.RequestAcceptedEvent
		if err := json.Unmarshal(ev.Data, &accepted); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return k.handler.HandleRequestAccepted(ctx, accepted)

	case domain.DomainRequestCreated:
		var created domain.RequestCreatedEvent
		if err := json.Unmarshal(ev.Data, &created); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return k.handler.HandleRequestCreated(ctx, created)

	case domain.DomainIdentityUpsert:
		var identity domain.Identity
		if err := json.Unmarshal(ev.Data, &identity); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return k.handler.HandleIdentityUpserted(ctx, identity)

	default:
		k.log.Debug().Str("type", ev.Type).Msg("ignoring unknown domain event")
		return nil
	}
}

func (k *KafkaConsumer) Close() error {
	for i := range k.readers {
		if err := k.readers[i].Close(); err != nil {
			k.log.Error().Err(err).Msg("error closing kafka reader")
		}
	}
	return nil
}

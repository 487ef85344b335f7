package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// envelope is the JSON value written for each event.
type envelope struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// KafkaSink forwards events to a Kafka topic.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Attach subscribes the sink to every event type on m.
func (s *KafkaSink) Attach(m *Manager) {
	for _, t := range AllTypes {
		m.Subscribe(t, s.Handle)
	}
}

// Handle writes one event. Events about the same person share a key so they
// land on the same partition in order.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	value, err := json.Marshal(envelope{
		ID:        uuid.New().String(),
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(eventKey(event)),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func eventKey(event Event) string {
	switch data := event.Data.(type) {
	case MatchRecordedData:
		return data.Email1
	case PreferenceUpdatedData:
		return data.Email
	case RunCompletedData:
		return data.Result.Date
	default:
		return string(event.Type)
	}
}

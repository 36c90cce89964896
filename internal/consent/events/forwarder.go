package events

import (
	"encoding/json"
	"log/slog"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/platform/kafka/producer"
)

// DefaultTopic carries consentChanged envelopes.
const DefaultTopic = "consent.changed"

// Publisher buffers a message for asynchronous delivery.
type Publisher interface {
	ProduceAsync(msg *producer.Message) error
}

// KafkaForwarder relays bus events to a Kafka topic keyed by visitor id, so
// all changes of one browsing context land on one partition in order.
// Delivery is fire-and-forget; failures are logged and never reach the
// publisher of the event.
type KafkaForwarder struct {
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

// NewKafkaForwarder builds a forwarder writing to topic.
func NewKafkaForwarder(publisher Publisher, topic string, logger *slog.Logger) *KafkaForwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaForwarder{publisher: publisher, topic: topic, logger: logger}
}

// Attach subscribes the forwarder to bus and returns the disposer.
func (f *KafkaForwarder) Attach(bus *Bus) func() {
	return bus.Subscribe(f.Handle)
}

// Handle encodes event and hands it to the publisher.
func (f *KafkaForwarder) Handle(event models.Event) {
	value, err := json.Marshal(event.Envelope())
	if err != nil {
		f.logger.Error("encode consent event", "error", err)
		return
	}
	msg := &producer.Message{
		Topic: f.topic,
		Key:   []byte(event.VisitorID),
		Value: value,
		Headers: map[string]string{
			"event":  models.EventConsentChanged,
			"status": string(event.Status),
		},
	}
	if err := f.publisher.ProduceAsync(msg); err != nil {
		f.logger.Warn("forward consent event", "topic", f.topic, "error", err)
	}
}

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/events/mocks"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/platform/kafka/producer"
)

func TestKafkaForwarder_PublishesEnvelope(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	bus := events.NewBus()
	forwarder := events.NewKafkaForwarder(publisher, "", nil)
	detach := forwarder.Attach(bus)
	defer detach()

	occurred := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	record := &models.Record{
		Categories: models.Categories{Analytics: true},
		Timestamp:  occurred,
		Version:    "1",
		Origin:     models.OriginCustom,
	}

	var sent *producer.Message
	publisher.EXPECT().ProduceAsync(gomock.Any()).DoAndReturn(func(msg *producer.Message) error {
		sent = msg
		return nil
	})

	bus.Publish(context.Background(), models.Event{
		VisitorID:  "visitor-9",
		Status:     models.StatusAccepted,
		Record:     record,
		OccurredAt: occurred,
	})

	require.NotNil(t, sent)
	assert.Equal(t, events.DefaultTopic, sent.Topic)
	assert.Equal(t, "visitor-9", string(sent.Key))
	assert.Equal(t, "accepted", sent.Headers["status"])

	var env models.Envelope
	require.NoError(t, json.Unmarshal(sent.Value, &env))
	assert.Equal(t, models.EventConsentChanged, env.Name)
	assert.Equal(t, models.StatusAccepted, env.Detail.Status)
	assert.True(t, env.Detail.Preferences.Analytics)
	assert.Equal(t, models.OriginCustom, env.Origin)
}

func TestKafkaForwarder_FailureDoesNotReachPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	bus := events.NewBus()
	events.NewKafkaForwarder(publisher, "custom.topic", nil).Attach(bus)

	var after int
	bus.Subscribe(func(models.Event) { after++ })

	var topic string
	publisher.EXPECT().ProduceAsync(gomock.Any()).DoAndReturn(func(msg *producer.Message) error {
		topic = msg.Topic
		return errors.New("producer is closed")
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), models.Event{VisitorID: "v", Status: models.StatusPending})
	})
	assert.Equal(t, 1, after)
	assert.Equal(t, "custom.topic", topic)
}

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/servoflow/transport"
	"github.com/drblury/servoflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.RequiresBroker)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "kafka", TransportName)
}

func TestSubscriberSaramaConfigStartsAtNewest(t *testing.T) {
	assert.Equal(t, sarama.OffsetNewest, SubscriberSaramaConfig().Consumer.Offsets.Initial)
}

func kafkaConfig(publish, subscribe bool) *transporttest.Config {
	return &transporttest.Config{
		Transport:          TransportName,
		Publish:            publish,
		Subscribe:          subscribe,
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "test-group",
	}
}

func TestBuild(t *testing.T) {
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})

	t.Run("creates transport with mocked factories", func(t *testing.T) {
		mockPub := &transporttest.Publisher{}
		mockSub := transporttest.NewSubscriber()

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			return mockPub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			assert.Equal(t, "test-group", cfg.ConsumerGroup)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			return mockSub, nil
		}

		tr, err := Build(context.Background(), kafkaConfig(true, true), watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})

	t.Run("SUB builds no publisher", func(t *testing.T) {
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			t.Fatal("publisher must not be built")
			return nil, nil
		}
		SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return transporttest.NewSubscriber(), nil
		}

		tr, err := Build(context.Background(), kafkaConfig(false, true), watermill.NopLogger{})
		require.NoError(t, err)
		assert.Nil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), kafkaConfig(true, false), watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		mockPub := &transporttest.Publisher{}
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), kafkaConfig(true, true), watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
		assert.Equal(t, 1, mockPub.Closed)
	})
}

package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/servoflow/transport/transporttest"
)

func TestConfig_Interface(t *testing.T) {
	var _ Config = (*transporttest.Config)(nil)

	cfg := transporttest.PubSub("test")
	assert.Equal(t, "test", cfg.GetTransport())
	assert.True(t, cfg.Publishes())
	assert.True(t, cfg.Subscribes())
}

type testProvider struct{}

func (testProvider) Capabilities() Capabilities {
	return Capabilities{Name: "test"}
}

func TestCapabilitiesProvider_Interface(t *testing.T) {
	var _ CapabilitiesProvider = testProvider{}
	assert.Equal(t, "test", testProvider{}.Capabilities().Name)
}

func TestTransport_CloseBothSides(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{}

	require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

type sharedPubSub struct {
	mockPublisher
	mockSubscriber
	closed int
}

func (s *sharedPubSub) Close() error {
	s.closed++
	return nil
}

func TestTransport_CloseSharedOnce(t *testing.T) {
	ps := &sharedPubSub{}
	require.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.Equal(t, 1, ps.closed)
}

func TestTransport_CloseZeroAndErrors(t *testing.T) {
	assert.NoError(t, Transport{}.Close())

	boom := errors.New("boom")
	err := Transport{Publisher: &mockPublisher{err: boom}}.Close()
	assert.ErrorIs(t, err, boom)
}

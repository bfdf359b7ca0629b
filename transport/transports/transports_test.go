package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/servoflow/transport"
)

func TestAllBuiltinsRegistered(t *testing.T) {
	for _, name := range []string{
		"aws", "channel", "http", "io", "kafka", "nats", "nats-jetstream",
		"postgres", "postgresql", "rabbitmq", "sqlite", "websocket",
	} {
		assert.True(t, transport.DefaultRegistry.Has(name), name)
		assert.NotEmpty(t, transport.GetCapabilities(name).Name, name)
	}
}

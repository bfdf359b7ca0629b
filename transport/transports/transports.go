// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/servoflow/transport/aws"
	_ "github.com/drblury/servoflow/transport/channel"
	_ "github.com/drblury/servoflow/transport/http"
	_ "github.com/drblury/servoflow/transport/io"
	_ "github.com/drblury/servoflow/transport/jetstream"
	_ "github.com/drblury/servoflow/transport/kafka"
	_ "github.com/drblury/servoflow/transport/nats"
	_ "github.com/drblury/servoflow/transport/postgres"
	_ "github.com/drblury/servoflow/transport/rabbitmq"
	_ "github.com/drblury/servoflow/transport/sqlite"
	_ "github.com/drblury/servoflow/transport/websocket"
)

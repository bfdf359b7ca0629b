// Package postgres provides a PostgreSQL bus log transport for peers that
// already share a database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/servoflow/transport"
	"github.com/drblury/servoflow/transport/internal/sqlbus"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultPollInterval is the default interval for polling new messages.
const DefaultPollInterval = sqlbus.DefaultPollInterval

// Open allows overriding the database handle for testing.
var Open = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func init() {
	Register()
}

// Register registers the PostgreSQL transport and its alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities) // Alias
}

// Build creates a new PostgreSQL transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	var tr transport.Transport
	if cfg.Publishes() {
		tr.Publisher = t
	}
	if cfg.Subscribes() {
		tr.Subscriber = t
	}
	return tr, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// PollInterval is the interval for polling new messages.
	PollInterval time.Duration
	// History is the number of buses kept per topic.
	History int64
	// SchemaName is the schema holding the bus table. Defaults to "servoflow".
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SchemaName == "" {
		c.SchemaName = "servoflow"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	return c
}

// Transport implements both Publisher and Subscriber over a PostgreSQL bus log.
type Transport struct {
	*sqlbus.Log
}

// New connects and creates the schema and bus table.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("PostgreSQL connection string is required")
	}
	cfg = cfg.withDefaults()

	db, err := Open(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	log, err := sqlbus.New(db, sqlbus.Postgres, sqlbus.Config{
		Table:        cfg.SchemaName + ".bus",
		PollInterval: cfg.PollInterval,
		History:      cfg.History,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Transport{Log: log}, nil
}

// Capabilities reports the PostgreSQL transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

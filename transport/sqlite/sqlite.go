// Package sqlite provides a SQLite bus log transport. Two orchestrators on one
// machine can share the bus through a database file; ":memory:" keeps it
// inside one process.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/servoflow/transport"
	"github.com/drblury/servoflow/transport/internal/sqlbus"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

const (
	// DefaultFilePath is used when no sqlite_file is configured.
	DefaultFilePath = "servoflow_bus.db"
	// DefaultPollInterval is the default interval for polling new messages.
	DefaultPollInterval = sqlbus.DefaultPollInterval
)

// Open allows overriding the database handle for testing.
var Open = func(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn)
}

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build creates a new SQLite transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
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
	return transport.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	FilePath string
	// PollInterval is the interval for polling new messages.
	PollInterval time.Duration
	// History is the number of buses kept per topic.
	History int64
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Transport implements both Publisher and Subscriber over a SQLite bus log.
type Transport struct {
	*sqlbus.Log
}

// New opens the database and creates the bus table.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	db, err := Open(cfg.FilePath + "?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	log, err := sqlbus.New(db, sqlbus.SQLite, sqlbus.Config{
		PollInterval: cfg.PollInterval,
		History:      cfg.History,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Transport{Log: log}, nil
}

// Capabilities reports the SQLite transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Package sqlbus is the bus log shared by the SQL transports. Every publish
// appends a row; every subscription keeps its own cursor and polls for rows
// past it. Only the newest History rows per topic are kept.
package sqlbus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/servoflow/internal/runtime/jsoncodec"
	"github.com/drblury/servoflow/transport"
)

const (
	// DefaultPollInterval is the default interval for polling new rows.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultHistory is how many rows are kept per topic.
	DefaultHistory = 32
	// DefaultBatchSize bounds the rows read per poll.
	DefaultBatchSize = 64
)

// Dialect holds what differs between SQL engines.
type Dialect struct {
	Name string
	// Schema returns the statements creating table.
	Schema func(table string) []string
	// Numbered selects $1 placeholders instead of ?.
	Numbered bool
}

// SQLite is the dialect for mattn/go-sqlite3.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				topic TEXT NOT NULL,
				uuid TEXT NOT NULL,
				metadata TEXT NOT NULL,
				payload BLOB NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS ` + indexName(table) + ` ON ` + table + `(topic, seq)`,
		}
	},
}

// Postgres is the dialect for lib/pq.
var Postgres = Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: func(table string) []string {
		stmts := make([]string, 0, 3)
		if schema, _, ok := strings.Cut(table, "."); ok {
			stmts = append(stmts, `CREATE SCHEMA IF NOT EXISTS `+schema)
		}
		return append(stmts,
			`CREATE TABLE IF NOT EXISTS `+table+` (
				seq BIGSERIAL PRIMARY KEY,
				topic TEXT NOT NULL,
				uuid TEXT NOT NULL,
				metadata TEXT NOT NULL,
				payload BYTEA NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS `+indexName(table)+` ON `+table+`(topic, seq)`,
		)
	},
}

func indexName(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_topic_seq"
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Config tunes the log.
type Config struct {
	// Table is the (optionally schema qualified) table name.
	Table string
	// History is the number of rows kept per topic.
	History int64
	// PollInterval is how often subscriptions look for new rows.
	PollInterval time.Duration
	// BatchSize bounds the rows read per poll.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = "servoflow_bus"
	}
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Log implements message.Publisher and message.Subscriber over a table.
type Log struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	logger  watermill.LoggerAdapter
	now     func() time.Time

	insertQuery string
	pruneQuery  string
	latestQuery string
	pollQuery   string

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New creates the table if needed. The Log owns db and closes it.
func New(db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) (*Log, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	l := &Log{
		db:         db,
		dialect:    dialect,
		config:     cfg,
		logger:     logger.With(watermill.LogFields{"transport": dialect.Name}),
		now:        time.Now,
		closedChan: make(chan struct{}),

		insertQuery: dialect.rebind(`INSERT INTO ` + cfg.Table +
			` (topic, uuid, metadata, payload, created_at) VALUES (?, ?, ?, ?, ?) RETURNING seq`),
		pruneQuery: dialect.rebind(`DELETE FROM ` + cfg.Table + ` WHERE topic = ? AND seq < (` +
			`SELECT MIN(seq) FROM (SELECT seq FROM ` + cfg.Table + ` WHERE topic = ? ORDER BY seq DESC LIMIT ?) AS newest)`),
		latestQuery: dialect.rebind(`SELECT COALESCE(MAX(seq), 0) FROM ` + cfg.Table + ` WHERE topic = ?`),
		pollQuery: dialect.rebind(`SELECT seq, uuid, metadata, payload FROM ` + cfg.Table +
			` WHERE topic = ? AND seq > ? ORDER BY seq ASC LIMIT ?`),
	}

	for _, stmt := range dialect.Schema(cfg.Table) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return l, nil
}

func (l *Log) isClosed() bool {
	l.closedMu.RLock()
	defer l.closedMu.RUnlock()
	return l.closed
}

// Publish appends messages to the log and prunes rows beyond History.
func (l *Log) Publish(topic string, messages ...*message.Message) error {
	if l.isClosed() {
		return transport.ErrClosed
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			l.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		payload := []byte(msg.Payload)
		if payload == nil {
			payload = []byte{}
		}
		var seq int64
		if err := tx.QueryRow(l.insertQuery, topic, msg.UUID, string(metadata), payload, l.now().UTC()).Scan(&seq); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if _, err := tx.Exec(l.pruneQuery, topic, topic, l.config.History); err != nil {
		return fmt.Errorf("failed to prune log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Subscribe delivers the newest row already in the log, then every row
// published after it.
func (l *Log) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if l.isClosed() {
		return nil, transport.ErrClosed
	}

	var latest int64
	if err := l.db.QueryRowContext(ctx, l.latestQuery, topic).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to read log position: %w", err)
	}
	cursor := latest - 1
	if cursor < 0 {
		cursor = 0
	}

	out := make(chan *message.Message)
	l.wg.Add(1)
	go l.poll(ctx, topic, cursor, out)
	return out, nil
}

type row struct {
	seq      int64
	uuid     string
	metadata string
	payload  []byte
}

func (l *Log) poll(ctx context.Context, topic string, cursor int64, out chan<- *message.Message) {
	defer l.wg.Done()
	defer close(out)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		rows, err := l.fetch(ctx, topic, cursor)
		if err != nil && ctx.Err() == nil && !l.isClosed() {
			l.logger.Error("failed to poll log", err, watermill.LogFields{"topic": topic})
		}
		for _, r := range rows {
			if !l.deliver(ctx, r, out) {
				return
			}
			cursor = r.seq
		}

		select {
		case <-ctx.Done():
			return
		case <-l.closedChan:
			return
		case <-ticker.C:
		}
	}
}

func (l *Log) fetch(ctx context.Context, topic string, cursor int64) ([]row, error) {
	rs, err := l.db.QueryContext(ctx, l.pollQuery, topic, cursor, l.config.BatchSize)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.seq, &r.uuid, &r.metadata, &r.payload); err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

func (l *Log) deliver(ctx context.Context, r row, out chan<- *message.Message) bool {
	msg := message.NewMessage(r.uuid, r.payload)
	if r.metadata != "" {
		if err := jsoncodec.Unmarshal([]byte(r.metadata), &msg.Metadata); err != nil {
			l.logger.Error("failed to unmarshal metadata", err, watermill.LogFields{"seq": r.seq})
		}
	}
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata)
	}
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-l.closedChan:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		l.logger.Debug("Message nacked, not redelivered", watermill.LogFields{"seq": r.seq})
	case <-ctx.Done():
		return false
	case <-l.closedChan:
		return false
	}
	return true
}

// Retained returns the number of rows kept for topic.
func (l *Log) Retained(topic string) (int64, error) {
	var count int64
	err := l.db.QueryRow(l.dialect.rebind(`SELECT COUNT(*) FROM `+l.config.Table+` WHERE topic = ?`), topic).Scan(&count)
	return count, err
}

// DB returns the underlying database connection.
func (l *Log) DB() *sql.DB {
	return l.db
}

// Close stops all subscriptions and closes the database.
func (l *Log) Close() error {
	l.closedMu.Lock()
	if l.closed {
		l.closedMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.closedChan)
	l.closedMu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}

// Package sqldb stores event records in a relational Events table through
// database/sql. SQLite, PostgreSQL and MySQL are supported.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/terraskye/eventpulse"
)

var (
	_ eventpulse.StreamPersistor = (*Persistor)(nil)
	_ eventpulse.Transactor      = (*Persistor)(nil)
)

// DefaultTable is the name of the events table.
const DefaultTable = "Events"

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// DBTX is implemented by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

// Option configures a Persistor.
type Option func(p *Persistor)

// WithTable stores records in table instead of DefaultTable.
func WithTable(table string) Option {
	return func(p *Persistor) { p.table = table }
}

// Persistor is a StreamPersistor backed by one SQL table. Records of a
// stream are unique per (StreamName, StreamId, Revision), which is what
// rejects a second writer of the same revision.
type Persistor struct {
	db      *sql.DB
	dialect Dialect
	table   string

	insertQuery string
	selectQuery string
}

// New returns a persistor over db. The schema is not created; call
// CreateSchema for that.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Persistor, error) {
	p := &Persistor{
		db:      db,
		dialect: dialect,
		table:   DefaultTable,
	}
	for _, opt := range opts {
		opt(p)
	}

	if !validTable.MatchString(p.table) {
		return nil, fmt.Errorf("invalid events table name %q", p.table)
	}

	q, ph := dialect.quote, dialect.placeholder
	p.insertQuery = fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s)",
		q(p.table), q("StreamName"), q("StreamId"), q("Revision"), q("EventType"), q("EventData"), q("Timestamp"),
		ph(1), ph(2), ph(3), ph(4), ph(5), ph(6),
	)
	p.selectQuery = fmt.Sprintf(
		"SELECT %s, %s, %s FROM %s WHERE %s = %s AND %s = %s ORDER BY %s",
		q("Revision"), q("EventType"), q("EventData"), q(p.table),
		q("StreamName"), ph(1), q("StreamId"), ph(2), q("Revision"),
	)
	return p, nil
}

// Open opens a database for the named driver and returns a persistor over it.
// Close releases the database.
func Open(driver, dsn string, opts ...Option) (*Persistor, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name, err)
	}

	p, err := New(db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// DB returns the underlying database.
func (p *Persistor) DB() *sql.DB {
	return p.db
}

// Close closes the underlying database.
func (p *Persistor) Close() error {
	return p.db.Close()
}

// CreateSchema creates the events table and its unique index if they do
// not exist.
func (p *Persistor) CreateSchema(ctx context.Context) error {
	for _, stmt := range p.dialect.schema(p.dialect, p.table) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s schema for table %q: %w", p.dialect.Name, p.table, err)
		}
	}
	return nil
}

// Persist inserts record. A record with the same stream and revision already
// stored yields a *eventpulse.ConcurrencyConflictError.
func (p *Persistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	return p.insert(ctx, p.db, record)
}

// GetEvents returns the stream's records ordered by revision. The timestamp
// column is write only and left zero.
func (p *Persistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	rows, err := p.db.QueryContext(ctx, p.selectQuery, streamName, streamID)
	if err != nil {
		return nil, fmt.Errorf("query stream %q/%q: %w", streamName, streamID, err)
	}
	defer rows.Close()

	var records []eventpulse.EventRecord
	for rows.Next() {
		var (
			revision int64
			data     string
		)
		record := eventpulse.EventRecord{StreamName: streamName, StreamID: streamID}
		if err := rows.Scan(&revision, &record.EventType, &data); err != nil {
			return nil, fmt.Errorf("scan stream %q/%q: %w", streamName, streamID, err)
		}
		record.Revision = uint64(revision)
		record.EventData = []byte(data)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stream %q/%q: %w", streamName, streamID, err)
	}
	return records, nil
}

// BeginTx starts a database transaction. Records persisted through it become
// visible on Commit.
func (p *Persistor) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s transaction: %w", p.dialect.Name, err)
	}
	return &persistorTx{persistor: p, tx: tx}, nil
}

func (p *Persistor) insert(ctx context.Context, db DBTX, record eventpulse.EventRecord) error {
	_, err := db.ExecContext(ctx, p.insertQuery,
		record.StreamName,
		record.StreamID,
		int64(record.Revision),
		record.EventType,
		string(record.EventData),
		record.Timestamp.UTC(),
	)
	if err == nil {
		return nil
	}
	if p.dialect.IsUniqueViolation(err) {
		return &eventpulse.ConcurrencyConflictError{
			StreamName: record.StreamName,
			StreamID:   record.StreamID,
			Revision:   record.Revision,
			Err:        err,
		}
	}
	return fmt.Errorf("insert %q/%q revision %d: %w", record.StreamName, record.StreamID, record.Revision, err)
}

type persistorTx struct {
	persistor *Persistor
	tx        *sql.Tx
}

func (t *persistorTx) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	return t.persistor.insert(ctx, t.tx, record)
}

func (t *persistorTx) Commit() error {
	return t.tx.Commit()
}

func (t *persistorTx) Rollback() error {
	return t.tx.Rollback()
}

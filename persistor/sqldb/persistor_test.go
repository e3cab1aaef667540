package sqldb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/terraskye/eventpulse"
	"github.com/terraskye/eventpulse/persistor/sqldb"
)

func newSQLitePersistor(t *testing.T, opts ...sqldb.Option) *sqldb.Persistor {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "events.db") + "?_pragma=busy_timeout(5000)"
	p, err := sqldb.Open("sqlite", dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.CreateSchema(context.Background()))
	return p
}

func record(name, id string, revision uint64, eventType, data string) eventpulse.EventRecord {
	return eventpulse.EventRecord{
		StreamName: name,
		StreamID:   id,
		Revision:   revision,
		EventType:  eventType,
		EventData:  []byte(data),
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_PersistAndGetEvents(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "V1.BookingCreated", `{"Price":300}`)))
	require.NoError(t, p.Persist(ctx, record("Booking", "1", 2, "V1.BookingPaid", `{"Amount":100}`)))
	require.NoError(t, p.Persist(ctx, record("Booking", "2", 1, "V1.BookingCreated", `{"Price":50}`)))

	records, err := p.GetEvents(ctx, "Booking", "1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, uint64(1), records[0].Revision)
	require.Equal(t, "V1.BookingCreated", records[0].EventType)
	require.JSONEq(t, `{"Price":300}`, string(records[0].EventData))
	require.Equal(t, uint64(2), records[1].Revision)
	require.Equal(t, "V1.BookingPaid", records[1].EventType)
	require.Equal(t, "Booking", records[1].StreamName)
	require.Equal(t, "1", records[1].StreamID)
}

func TestSQLite_GetEventsOrdersByRevision(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	// Inserted out of order on purpose.
	require.NoError(t, p.Persist(ctx, record("Booking", "1", 2, "B", `{}`)))
	require.NoError(t, p.Persist(ctx, record("Booking", "1", 3, "C", `{}`)))
	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "A", `{}`)))

	records, err := p.GetEvents(ctx, "Booking", "1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		require.Equal(t, uint64(i+1), r.Revision)
		require.Equal(t, string(rune('A'+i)), r.EventType)
	}
}

func TestSQLite_GetEventsUnknownStream(t *testing.T) {
	p := newSQLitePersistor(t)

	records, err := p.GetEvents(context.Background(), "Booking", "missing")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSQLite_DuplicateRevisionIsConflict(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "V1.BookingCreated", `{}`)))
	err := p.Persist(ctx, record("Booking", "1", 1, "V1.BookingCreated", `{}`))

	require.Error(t, err)
	require.True(t, errors.Is(err, eventpulse.ErrConcurrencyConflict))

	var conflict *eventpulse.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "Booking", conflict.StreamName)
	require.Equal(t, "1", conflict.StreamID)
	require.Equal(t, uint64(1), conflict.Revision)
}

func TestSQLite_SameRevisionOnOtherStreamIsAllowed(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "X", `{}`)))
	require.NoError(t, p.Persist(ctx, record("Invoice", "1", 1, "X", `{}`)))
	require.NoError(t, p.Persist(ctx, record("Booking", "2", 1, "X", `{}`)))
}

func TestSQLite_TxCommit(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	tx, err := p.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Persist(ctx, record("Booking", "1", 1, "A", `{}`)))
	require.NoError(t, tx.Persist(ctx, record("Booking", "1", 2, "B", `{}`)))
	require.NoError(t, tx.Commit())

	records, err := p.GetEvents(ctx, "Booking", "1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestSQLite_TxRollbackWritesNothing(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t)

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "A", `{}`)))

	tx, err := p.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Persist(ctx, record("Booking", "2", 1, "A", `{}`)))

	err = tx.Persist(ctx, record("Booking", "1", 1, "A", `{}`))
	require.True(t, errors.Is(err, eventpulse.ErrConcurrencyConflict))
	require.NoError(t, tx.Rollback())

	records, err := p.GetEvents(ctx, "Booking", "2")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSQLite_CreateSchemaIsIdempotent(t *testing.T) {
	p := newSQLitePersistor(t)
	require.NoError(t, p.CreateSchema(context.Background()))
}

func TestSQLite_CustomTable(t *testing.T) {
	ctx := context.Background()
	p := newSQLitePersistor(t, sqldb.WithTable("BookingEvents"))

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "A", `{}`)))

	var count int
	require.NoError(t, p.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "BookingEvents"`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestNew_RejectsInvalidTable(t *testing.T) {
	_, err := sqldb.New(nil, sqldb.SQLite, sqldb.WithTable(`Events"; DROP TABLE x; --`))
	require.Error(t, err)
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		hasErr bool
	}{
		{name: "sqlite", want: "sqlite"},
		{name: "sqlite3", want: "sqlite"},
		{name: "Postgres", want: "postgres"},
		{name: "postgresql", want: "postgres"},
		{name: "mysql", want: "mysql"},
		{name: "oracle", hasErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := sqldb.DialectFor(tt.name)
			if tt.hasErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Name)
		})
	}
}

func TestDialect_IsUniqueViolationFallbacks(t *testing.T) {
	require.False(t, sqldb.SQLite.IsUniqueViolation(nil))
	require.True(t, sqldb.SQLite.IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: Events.StreamName")))
	require.True(t, sqldb.Postgres.IsUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "IX_StreamRevision"`)))
	require.True(t, sqldb.MySQL.IsUniqueViolation(errors.New("Error 1062: Duplicate entry 'Booking-1-1' for key 'IX_StreamRevision'")))
	require.False(t, sqldb.MySQL.IsUniqueViolation(errors.New("connection refused")))
}

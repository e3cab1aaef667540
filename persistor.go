package eventpulse

import (
	"context"
)

// StreamPersistor stores raw event records per stream.
//
// Implementations must guarantee:
//   - Records for one stream identity are returned ordered by ascending revision.
//   - A second record with the same (StreamName, StreamID, Revision) is rejected
//     with an error matching ErrConcurrencyConflict.
//   - GetEvents on an unknown stream returns an empty slice, not an error.
type StreamPersistor interface {
	// Persist durably appends one record.
	Persist(ctx context.Context, record EventRecord) error

	// GetEvents returns all records of the stream ordered by revision.
	GetEvents(ctx context.Context, streamName, streamID string) ([]EventRecord, error)
}

// Transactor is implemented by persistors that can apply a batch of records
// as a single unit. Sessions flush through it when available.
type Transactor interface {
	BeginTx(ctx context.Context) (PersistorTx, error)
}

// PersistorTx collects writes that become visible on Commit and are
// discarded on Rollback. Rollback after Commit is a no-op.
type PersistorTx interface {
	Persist(ctx context.Context, record EventRecord) error
	Commit() error
	Rollback() error
}

// BatchPersistor is implemented by persistors that store several records of
// one stream with a single write. Records passed to PersistBatch share their
// stream identity and carry consecutive revisions. Sessions use it when the
// persistor is not a Transactor.
type BatchPersistor interface {
	PersistBatch(ctx context.Context, records []EventRecord) error
}

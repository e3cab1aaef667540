package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/terraskye/eventpulse"
)

var (
	_ eventpulse.StreamPersistor = (*Persistor)(nil)
	_ eventpulse.Transactor      = (*Persistor)(nil)
)

// ErrTxDone is returned when a committed or rolled back transaction is used.
var ErrTxDone = errors.New("transaction already committed or rolled back")

type streamKey struct {
	name string
	id   string
}

// Persistor keeps event records in process memory, one ordered slice per
// stream. It is meant for tests and single process demos.
type Persistor struct {
	mu      sync.RWMutex
	streams map[streamKey][]eventpulse.EventRecord
}

func NewPersistor() *Persistor {
	return &Persistor{
		streams: make(map[streamKey][]eventpulse.EventRecord),
	}
}

// Persist appends record to its stream. The revision must be the one right
// after the stream's last record.
func (p *Persistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := streamKey{record.StreamName, record.StreamID}
	if err := checkNext(record, uint64(len(p.streams[key]))); err != nil {
		return err
	}
	p.streams[key] = append(p.streams[key], record)
	return nil
}

// GetEvents returns a copy of the stream's records in revision order. A
// stream that was never written is empty.
func (p *Persistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	records := p.streams[streamKey{streamName, streamID}]
	out := make([]eventpulse.EventRecord, len(records))
	copy(out, records)
	return out, nil
}

// Streams returns the number of streams holding at least one record.
func (p *Persistor) Streams() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.streams)
}

// BeginTx starts a transaction that stages records and appends them all at
// once on Commit.
func (p *Persistor) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{persistor: p}, nil
}

func checkNext(record eventpulse.EventRecord, last uint64) error {
	switch {
	case record.Revision == 0:
		return fmt.Errorf("stream %q/%q: revision must start at 1", record.StreamName, record.StreamID)
	case record.Revision <= last:
		return &eventpulse.ConcurrencyConflictError{
			StreamName: record.StreamName,
			StreamID:   record.StreamID,
			Revision:   record.Revision,
		}
	case record.Revision != last+1:
		return fmt.Errorf("stream %q/%q: revision %d follows %d: %w",
			record.StreamName, record.StreamID, record.Revision, last, eventpulse.ErrRevisionSequence)
	}
	return nil
}

type tx struct {
	persistor *Persistor
	staged    []eventpulse.EventRecord
	done      bool
}

func (t *tx) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if t.done {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.persistor.mu.RLock()
	last := t.lastRevision(streamKey{record.StreamName, record.StreamID})
	t.persistor.mu.RUnlock()

	if err := checkNext(record, last); err != nil {
		return err
	}
	t.staged = append(t.staged, record)
	return nil
}

// lastRevision reports the stream's last revision including staged records.
// The caller holds the persistor lock.
func (t *tx) lastRevision(key streamKey) uint64 {
	last := uint64(len(t.persistor.streams[key]))
	for _, r := range t.staged {
		if r.StreamName == key.name && r.StreamID == key.id {
			last = r.Revision
		}
	}
	return last
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	p := t.persistor
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another writer may have appended since the records were staged.
	next := make(map[streamKey]uint64)
	for _, r := range t.staged {
		key := streamKey{r.StreamName, r.StreamID}
		last, ok := next[key]
		if !ok {
			last = uint64(len(p.streams[key]))
		}
		if err := checkNext(r, last); err != nil {
			return err
		}
		next[key] = r.Revision
	}

	for _, r := range t.staged {
		key := streamKey{r.StreamName, r.StreamID}
		p.streams[key] = append(p.streams[key], r)
	}
	t.staged = nil
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.staged = nil
	return nil
}

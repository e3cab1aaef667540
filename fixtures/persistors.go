package fixtures

import (
	"context"
	"errors"
	"sync"

	"github.com/terraskye/eventpulse"
)

var (
	_ eventpulse.StreamPersistor = (*PersistorSpy)(nil)
	_ eventpulse.Transactor      = (*PersistorSpy)(nil)
)

type streamKey struct{ name, id string }

// PersistorSpy is a configurable mock StreamPersistor for testing.
// It tracks calls and allows injecting custom behavior or failures.
// Records persisted directly or through a committed transaction are served
// back by GetEvents.
type PersistorSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	PersistFn   func(ctx context.Context, record eventpulse.EventRecord) error
	GetEventsFn func(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error)

	// Call tracking
	PersistCalls   int
	GetEventsCalls int
	BeginTxCalls   int
	CommitCalls    int
	RollbackCalls  int

	// Persisted holds every record accepted, in order.
	Persisted []eventpulse.EventRecord

	// Pre-configured data
	records map[streamKey][]eventpulse.EventRecord

	// Error injection
	getErr     error
	persistErr error
	failAt     int
	commitErr  error
	beginErr   error
}

// NewPersistorSpy creates a new PersistorSpy with default behavior.
func NewPersistorSpy() *PersistorSpy {
	return &PersistorSpy{
		records: make(map[streamKey][]eventpulse.EventRecord),
	}
}

// WithRecords pre-populates a stream.
func (s *PersistorSpy) WithRecords(records ...eventpulse.EventRecord) *PersistorSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		key := streamKey{r.StreamName, r.StreamID}
		s.records[key] = append(s.records[key], r)
	}
	return s
}

// FailOnGet configures the spy to return err from GetEvents.
func (s *PersistorSpy) FailOnGet(err error) *PersistorSpy {
	s.getErr = err
	return s
}

// FailOnPersist configures the spy to return err from the n-th persist call,
// counting from 1. n = 0 fails every call.
func (s *PersistorSpy) FailOnPersist(n int, err error) *PersistorSpy {
	s.failAt = n
	s.persistErr = err
	return s
}

// FailOnCommit configures the spy to return err from Commit.
func (s *PersistorSpy) FailOnCommit(err error) *PersistorSpy {
	s.commitErr = err
	return s
}

// FailOnBegin configures the spy to return err from BeginTx.
func (s *PersistorSpy) FailOnBegin(err error) *PersistorSpy {
	s.beginErr = err
	return s
}

// Persist implements StreamPersistor.Persist.
func (s *PersistorSpy) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := s.checkPersist(ctx, record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(record)
	return nil
}

func (s *PersistorSpy) checkPersist(ctx context.Context, record eventpulse.EventRecord) error {
	s.mu.Lock()
	s.PersistCalls++
	call := s.PersistCalls
	s.mu.Unlock()

	if s.PersistFn != nil {
		return s.PersistFn(ctx, record)
	}
	if s.persistErr != nil && (s.failAt == 0 || s.failAt == call) {
		return s.persistErr
	}
	return nil
}

// store keeps record. The caller holds s.mu.
func (s *PersistorSpy) store(record eventpulse.EventRecord) {
	key := streamKey{record.StreamName, record.StreamID}
	s.records[key] = append(s.records[key], record)
	s.Persisted = append(s.Persisted, record)
}

// GetEvents implements StreamPersistor.GetEvents.
func (s *PersistorSpy) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	s.mu.Lock()
	s.GetEventsCalls++
	s.mu.Unlock()

	if s.GetEventsFn != nil {
		return s.GetEventsFn(ctx, streamName, streamID)
	}
	if s.getErr != nil {
		return nil, s.getErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.records[streamKey{streamName, streamID}]
	out := make([]eventpulse.EventRecord, len(records))
	copy(out, records)
	return out, nil
}

// BeginTx implements Transactor.BeginTx. Records are kept back until Commit.
func (s *PersistorSpy) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	s.mu.Lock()
	s.BeginTxCalls++
	s.mu.Unlock()

	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &TxSpy{spy: s}, nil
}

// Reset clears all call counts and stored data.
func (s *PersistorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PersistCalls = 0
	s.GetEventsCalls = 0
	s.BeginTxCalls = 0
	s.CommitCalls = 0
	s.RollbackCalls = 0
	s.Persisted = nil
	s.records = make(map[streamKey][]eventpulse.EventRecord)
	s.getErr = nil
	s.persistErr = nil
	s.failAt = 0
	s.commitErr = nil
	s.beginErr = nil
}

// TxSpy is the transaction handed out by PersistorSpy.BeginTx.
type TxSpy struct {
	spy    *PersistorSpy
	staged []eventpulse.EventRecord
}

func (t *TxSpy) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := t.spy.checkPersist(ctx, record); err != nil {
		return err
	}
	t.staged = append(t.staged, record)
	return nil
}

func (t *TxSpy) Commit() error {
	t.spy.mu.Lock()
	defer t.spy.mu.Unlock()

	t.spy.CommitCalls++
	if t.spy.commitErr != nil {
		return t.spy.commitErr
	}
	for _, r := range t.staged {
		t.spy.store(r)
	}
	t.staged = nil
	return nil
}

func (t *TxSpy) Rollback() error {
	t.spy.mu.Lock()
	defer t.spy.mu.Unlock()

	t.spy.RollbackCalls++
	t.staged = nil
	return nil
}

// NonTransactional hides the Transactor side of a persistor.
type NonTransactional struct {
	eventpulse.StreamPersistor
}

// Batching hides the Transactor of the wrapped persistor and implements
// BatchPersistor by persisting each record in turn.
type Batching struct {
	eventpulse.StreamPersistor
	Batches int
}

func (b *Batching) PersistBatch(ctx context.Context, records []eventpulse.EventRecord) error {
	b.Batches++
	for _, record := range records {
		if err := b.Persist(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Pre-built persistor scenarios.

// FailingPersistor returns a PersistorSpy that fails on all operations.
func FailingPersistor(err error) *PersistorSpy {
	return NewPersistorSpy().FailOnGet(err).FailOnPersist(0, err).FailOnBegin(err)
}

// ConflictingPersistor returns a PersistorSpy whose first n persist calls fail
// with a concurrency conflict.
func ConflictingPersistor(n int) *PersistorSpy {
	spy := NewPersistorSpy()
	spy.PersistFn = func(ctx context.Context, record eventpulse.EventRecord) error {
		spy.mu.Lock()
		call := spy.PersistCalls
		spy.mu.Unlock()
		if call <= n {
			return &eventpulse.ConcurrencyConflictError{
				StreamName: record.StreamName,
				StreamID:   record.StreamID,
				Revision:   record.Revision,
			}
		}
		return nil
	}
	return spy
}

// ErrBackend is a generic injected failure.
var ErrBackend = errors.New("backend unavailable")

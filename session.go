package eventpulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Session is a unit of work. It rebuilds aggregates from their persisted
// events and collects the events recorded while the work is done. When the
// session was completed, Dispose persists them in the order they were
// recorded; otherwise they are dropped.
//
// A session is bound to the context returned by SessionFactory.Create and
// must be disposed exactly once, typically with defer.
type Session struct {
	id           uuid.UUID
	registry     *SerializerRegistry
	persistor    StreamPersistor
	logger       *logrus.Entry
	now          func() time.Time
	flushTimeout time.Duration

	mu        sync.Mutex
	hydrating int
	pending   []EventEntry
	completed bool
	disposed  bool
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// IsHydrating reports whether the session is replaying persisted events.
func (s *Session) IsHydrating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrating > 0
}

// IsCompleted reports whether Complete was called.
func (s *Session) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// IsDisposed reports whether Dispose was called.
func (s *Session) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Pending returns a copy of the events recorded and not yet persisted.
func (s *Session) Pending() []EventEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventEntry, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Session) beginHydration() {
	s.mu.Lock()
	s.hydrating++
	s.mu.Unlock()
}

func (s *Session) endHydration() {
	s.mu.Lock()
	s.hydrating--
	s.mu.Unlock()
}

// Find rebuilds the aggregate stored under (streamName, streamID) by folding
// its persisted events through the stream's serializer.
//
// Returns:
//   - the aggregate state, or nil if the stream has no events.
//   - ErrSerializerNotRegistered if no serializer is bound to streamName.
//   - ErrUnsupportedEventType if a stored event cannot be decoded or applied.
func (s *Session) Find(ctx context.Context, streamName, streamID string) (state any, err error) {
	if s.IsDisposed() {
		return nil, fmt.Errorf("find %s/%s: %w", streamName, streamID, ErrSessionDisposed)
	}

	serializer, err := s.registry.Resolve(streamName)
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", streamName, streamID, err)
	}

	ctx, span := tracer.Start(ctx, "eventpulse.session.find",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSessionID.String(s.id.String()),
			AttrStreamName.String(streamName),
			AttrStreamID.String(streamID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.beginHydration()
	defer s.endHydration()

	records, err := s.persistor.GetEvents(ctx, streamName, streamID)
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", streamName, streamID, WrapPersistenceError("get events", err))
	}

	hydrationCtx := withHydration(ctx, s)
	for i, record := range records {
		if record.Revision != uint64(i+1) {
			return nil, fmt.Errorf("find %s/%s: expected revision %d, got %d: %w",
				streamName, streamID, i+1, record.Revision, ErrRevisionSequence)
		}

		event, err := serializer.Decode(record.EventType, record.EventData)
		if err != nil {
			return nil, fmt.Errorf("find %s/%s: decode revision %d: %w", streamName, streamID, record.Revision, err)
		}

		state, err = serializer.Aggregate(hydrationCtx, state, event)
		if err != nil {
			return nil, fmt.Errorf("find %s/%s: apply revision %d: %w", streamName, streamID, record.Revision, err)
		}
	}

	span.SetAttributes(AttrEventCount.Int(len(records)))
	EventsHydrated.Add(ctx, int64(len(records)), metric.WithAttributes(AttrStreamName.String(streamName)))

	s.logger.WithFields(logrus.Fields{
		"stream_name": streamName,
		"stream_id":   streamID,
		"events":      len(records),
	}).Debug("stream hydrated")

	return state, nil
}

// Find is the typed form of Session.Find. The boolean is false when the
// stream has no events.
func Find[T any](ctx context.Context, s *Session, streamName, streamID string) (T, bool, error) {
	var zero T

	state, err := s.Find(ctx, streamName, streamID)
	if err != nil {
		return zero, false, err
	}
	if state == nil {
		return zero, false, nil
	}

	t, ok := state.(T)
	if !ok {
		return zero, false, fmt.Errorf("find %s/%s: state has type %T, want %T", streamName, streamID, state, zero)
	}
	return t, true, nil
}

// Track adds entry to the events persisted when the session completes.
// EventStream calls it for every recorded event.
func (s *Session) Track(entry EventEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrSessionDisposed
	}
	if s.hydrating > 0 {
		return ErrTrackDuringHydration
	}

	s.pending = append(s.pending, entry)
	return nil
}

// Complete marks the unit of work to be persisted on Dispose.
func (s *Session) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

// Dispose ends the session and releases its binding. If the session was
// completed, every pending event is encoded and persisted in recorded order;
// otherwise pending events are discarded and nothing is written.
//
// Calling Dispose again is a no-op.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	pending := s.pending
	s.pending = nil
	completed := s.completed
	s.mu.Unlock()

	logger := s.logger.WithField("pending", len(pending))

	if !completed {
		SessionsDisposed.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String("abandoned")))
		EventsDiscarded.Add(ctx, int64(len(pending)))
		logger.Debug("session abandoned")
		return nil
	}

	if err := s.flush(ctx, pending); err != nil {
		SessionsDisposed.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String("failed")))
		logger.WithError(err).Error("session flush failed")
		return fmt.Errorf("flush session %s: %w", s.id, err)
	}

	SessionsDisposed.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String("committed")))
	logger.Debug("session committed")
	return nil
}

func (s *Session) flush(ctx context.Context, pending []EventEntry) (err error) {
	if len(pending) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "eventpulse.session.flush",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSessionID.String(s.id.String()),
			AttrEventCount.Int(len(pending)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.flushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.flushTimeout)
		defer cancel()
	}

	// Encode everything up front so an unsupported event fails before any write.
	records, err := s.encode(pending)
	if err != nil {
		return err
	}

	start := time.Now()
	switch persistor := s.persistor.(type) {
	case Transactor:
		err = persistInTx(ctx, persistor, records)
	case BatchPersistor:
		err = persistRuns(ctx, persistor, records)
	default:
		err = persistEach(ctx, s.persistor, records)
	}
	FlushDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			ConcurrencyConflicts.Add(ctx, 1)
		}
		return err
	}

	EventsFlushed.Add(ctx, int64(len(records)))
	return nil
}

func (s *Session) encode(pending []EventEntry) ([]EventRecord, error) {
	records := make([]EventRecord, 0, len(pending))
	timestamp := s.now().UTC()

	for _, entry := range pending {
		serializer, err := s.registry.Resolve(entry.StreamName)
		if err != nil {
			return nil, err
		}

		eventType, eventData, err := serializer.Encode(entry.Event)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s revision %d: %w", entry.StreamName, entry.StreamID, entry.Revision, err)
		}

		records = append(records, EventRecord{
			StreamName: entry.StreamName,
			StreamID:   entry.StreamID,
			Revision:   entry.Revision,
			EventType:  eventType,
			EventData:  eventData,
			Timestamp:  timestamp,
		})
	}
	return records, nil
}

func persistEach(ctx context.Context, persistor StreamPersistor, records []EventRecord) error {
	for _, record := range records {
		if err := persistor.Persist(ctx, record); err != nil {
			return fmt.Errorf("persist %s/%s revision %d: %w",
				record.StreamName, record.StreamID, record.Revision, WrapPersistenceError("persist", err))
		}
	}
	return nil
}

// persistRuns writes each run of consecutive revisions of one stream with a
// single PersistBatch call.
func persistRuns(ctx context.Context, persistor BatchPersistor, records []EventRecord) error {
	for _, run := range streamRuns(records) {
		if err := persistor.PersistBatch(ctx, run); err != nil {
			first, last := run[0], run[len(run)-1]
			return fmt.Errorf("persist %s/%s revisions %d-%d: %w",
				first.StreamName, first.StreamID, first.Revision, last.Revision, WrapPersistenceError("persist", err))
		}
	}
	return nil
}

func streamRuns(records []EventRecord) [][]EventRecord {
	var runs [][]EventRecord
	start := 0
	for i := 1; i <= len(records); i++ {
		if i < len(records) {
			prev, cur := records[i-1], records[i]
			if cur.StreamName == prev.StreamName && cur.StreamID == prev.StreamID && cur.Revision == prev.Revision+1 {
				continue
			}
		}
		runs = append(runs, records[start:i])
		start = i
	}
	return runs
}

func persistInTx(ctx context.Context, transactor Transactor, records []EventRecord) error {
	tx, err := transactor.BeginTx(ctx)
	if err != nil {
		return WrapPersistenceError("begin", err)
	}

	for _, record := range records {
		if err := tx.Persist(ctx, record); err != nil {
			err = fmt.Errorf("persist %s/%s revision %d: %w",
				record.StreamName, record.StreamID, record.Revision, WrapPersistenceError("persist", err))
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, WrapPersistenceError("rollback", rbErr))
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return WrapPersistenceError("commit", err)
	}
	return nil
}

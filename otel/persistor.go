package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terraskye/eventpulse"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ eventpulse.StreamPersistor = (*TelemetryPersistor)(nil)
	_ eventpulse.Transactor      = (*telemetryTransactor)(nil)
	_ eventpulse.BatchPersistor  = (*telemetryBatcher)(nil)
)

// TelemetryPersistor traces and measures every call to the wrapped persistor.
type TelemetryPersistor struct {
	next eventpulse.StreamPersistor
	cfg  config
}

type telemetryTransactor struct {
	*TelemetryPersistor
	transactor eventpulse.Transactor
}

type telemetryBatcher struct {
	*TelemetryPersistor
	batcher eventpulse.BatchPersistor
}

// WithPersistorTelemetry wraps next with spans and metrics. When next
// implements eventpulse.Transactor or eventpulse.BatchPersistor, so does the
// returned persistor.
func WithPersistorTelemetry(next eventpulse.StreamPersistor, opts ...Option) eventpulse.StreamPersistor {
	t := &TelemetryPersistor{next: next}
	for _, o := range opts {
		o.apply(&t.cfg)
	}

	if transactor, ok := next.(eventpulse.Transactor); ok {
		return &telemetryTransactor{TelemetryPersistor: t, transactor: transactor}
	}
	if batcher, ok := next.(eventpulse.BatchPersistor); ok {
		return &telemetryBatcher{TelemetryPersistor: t, batcher: batcher}
	}
	return t
}

func (t *TelemetryPersistor) start(ctx context.Context, name, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrOperation.String(operation))
	attrs = append(attrs, t.cfg.attributes(ctx)...)
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Persist with metrics + span
func (t *TelemetryPersistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	ctx, span := t.start(ctx, "StreamPersistor.Persist", "persist", recordAttributes(record)...)
	defer span.End()

	start := time.Now()
	err := t.next.Persist(ctx, record)
	observePersist(ctx, span, start, "persist", record, err)
	return err
}

// GetEvents with metrics + span
func (t *TelemetryPersistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	ctx, span := t.start(ctx, "StreamPersistor.GetEvents", "get_events",
		AttrStreamName.String(streamName),
		AttrStreamID.String(streamID),
	)
	defer span.End()

	start := time.Now()
	records, err := t.next.GetEvents(ctx, streamName, streamID)
	PersistorDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("get_events")),
	)

	if err != nil {
		recordError(ctx, span, "get_events", err)
		return records, err
	}

	span.SetAttributes(AttrEventCount.Int(len(records)))
	RecordsLoaded.Add(ctx, int64(len(records)), metric.WithAttributes(AttrStreamName.String(streamName)))
	return records, nil
}

func (t *telemetryBatcher) PersistBatch(ctx context.Context, records []eventpulse.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	first := records[0]

	ctx, span := t.start(ctx, "StreamPersistor.PersistBatch", "persist_batch",
		AttrStreamName.String(first.StreamName),
		AttrStreamID.String(first.StreamID),
		AttrStreamRevision.Int64(int64(first.Revision)),
		AttrEventCount.Int(len(records)),
	)
	defer span.End()

	start := time.Now()
	err := t.batcher.PersistBatch(ctx, records)
	PersistorDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("persist_batch")),
	)

	if err != nil {
		if errors.Is(err, eventpulse.ErrConcurrencyConflict) {
			PersistorConflicts.Add(ctx, 1, metric.WithAttributes(AttrStreamName.String(first.StreamName)))
		}
		recordError(ctx, span, "persist_batch", err)
		return err
	}

	for _, record := range records {
		RecordsPersisted.Add(ctx, 1, metric.WithAttributes(
			AttrStreamName.String(record.StreamName),
			AttrEventType.String(record.EventType),
		))
	}
	return nil
}

// BeginTx starts a transaction on the wrapped persistor. The span lasts until
// the transaction is committed or rolled back.
func (t *telemetryTransactor) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	ctx, span := t.start(ctx, "PersistorTx", "transaction")

	tx, err := t.transactor.BeginTx(ctx)
	if err != nil {
		recordError(ctx, span, "begin", err)
		span.End()
		return nil, err
	}
	return &telemetryTx{next: tx, ctx: ctx, span: span, started: time.Now()}, nil
}

type telemetryTx struct {
	next    eventpulse.PersistorTx
	ctx     context.Context
	span    trace.Span
	started time.Time
	count   int
}

func (t *telemetryTx) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	start := time.Now()
	err := t.next.Persist(ctx, record)
	if err == nil {
		t.count++
	}
	observePersist(ctx, t.span, start, "tx_persist", record, err)
	return err
}

func (t *telemetryTx) Commit() error {
	defer t.span.End()

	err := t.next.Commit()
	t.span.SetAttributes(AttrEventCount.Int(t.count))
	PersistorDuration.Record(t.ctx, float64(time.Since(t.started).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("transaction")),
	)
	if err != nil {
		recordError(t.ctx, t.span, "commit", err)
		return err
	}
	TransactionsCommitted.Add(t.ctx, 1)
	return nil
}

func (t *telemetryTx) Rollback() error {
	defer t.span.End()

	TransactionsRolledBack.Add(t.ctx, 1)
	t.span.AddEvent("rollback")
	err := t.next.Rollback()
	if err != nil {
		recordError(t.ctx, t.span, "rollback", err)
	}
	return err
}

func recordAttributes(record eventpulse.EventRecord) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStreamName.String(record.StreamName),
		AttrStreamID.String(record.StreamID),
		AttrStreamRevision.Int64(int64(record.Revision)),
		AttrEventType.String(record.EventType),
	}
}

func observePersist(ctx context.Context, span trace.Span, start time.Time, operation string, record eventpulse.EventRecord, err error) {
	PersistorDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String(operation)),
	)

	if err != nil {
		if errors.Is(err, eventpulse.ErrConcurrencyConflict) {
			PersistorConflicts.Add(ctx, 1, metric.WithAttributes(AttrStreamName.String(record.StreamName)))
		}
		recordError(ctx, span, operation, err)
		return
	}

	RecordsPersisted.Add(ctx, 1, metric.WithAttributes(
		AttrStreamName.String(record.StreamName),
		AttrEventType.String(record.EventType),
	))
}

func recordError(ctx context.Context, span trace.Span, operation string, err error) {
	PersistorErrors.Add(ctx, 1, metric.WithAttributes(
		AttrOperation.String(operation),
		AttrErrorType.String(fmt.Sprintf("%T", err)),
	))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

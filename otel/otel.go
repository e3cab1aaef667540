package otel

import (
	"github.com/terraskye/eventpulse"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/eventpulse/otel"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Stream attributes
	AttrStreamName     = eventpulse.AttrStreamName
	AttrStreamID       = eventpulse.AttrStreamID
	AttrStreamRevision = attribute.Key("eventpulse.stream.revision")

	// Event attributes
	AttrEventType  = attribute.Key("eventpulse.event.type")
	AttrEventCount = eventpulse.AttrEventCount

	// Operation attributes
	AttrOperation = attribute.Key("eventpulse.operation")
	AttrErrorType = attribute.Key("eventpulse.error.type")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(eventpulse.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventpulse.InstrumentationVersion))

	// Persistor metrics
	RecordsPersisted, _ = meter.Int64Counter(
		"eventpulse.persistor.records.persisted",
		metric.WithDescription("Number of records persisted"),
		metric.WithUnit("{record}"),
	)

	RecordsLoaded, _ = meter.Int64Counter(
		"eventpulse.persistor.records.loaded",
		metric.WithDescription("Number of records loaded from streams"),
		metric.WithUnit("{record}"),
	)

	PersistorDuration, _ = meter.Float64Histogram(
		"eventpulse.persistor.duration",
		metric.WithDescription("Persistor operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	PersistorErrors, _ = meter.Int64Counter(
		"eventpulse.persistor.errors",
		metric.WithDescription("Number of persistor errors"),
		metric.WithUnit("{error}"),
	)

	PersistorConflicts, _ = meter.Int64Counter(
		"eventpulse.persistor.conflicts",
		metric.WithDescription("Number of records rejected because their revision was taken"),
		metric.WithUnit("{conflict}"),
	)

	TransactionsCommitted, _ = meter.Int64Counter(
		"eventpulse.persistor.transactions.committed",
		metric.WithDescription("Number of persistor transactions committed"),
		metric.WithUnit("{transaction}"),
	)

	TransactionsRolledBack, _ = meter.Int64Counter(
		"eventpulse.persistor.transactions.rolled_back",
		metric.WithDescription("Number of persistor transactions rolled back"),
		metric.WithUnit("{transaction}"),
	)
)

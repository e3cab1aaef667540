package eventpulse

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/eventpulse"

	// InstrumentationVersion is reported on every meter and tracer of the module.
	InstrumentationVersion = "0.1.0"
)

const (
	AttrSessionID  = attribute.Key("eventpulse.session.id")
	AttrStreamName = attribute.Key("eventpulse.stream.name")
	AttrStreamID   = attribute.Key("eventpulse.stream.id")
	AttrEventCount = attribute.Key("eventpulse.events.count")
	AttrOutcome    = attribute.Key("eventpulse.session.outcome")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))

	// Session metrics
	SessionsCreated, _ = meter.Int64Counter(
		"eventpulse.sessions.created",
		metric.WithDescription("Number of sessions created"),
		metric.WithUnit("{session}"),
	)

	SessionsDisposed, _ = meter.Int64Counter(
		"eventpulse.sessions.disposed",
		metric.WithDescription("Number of sessions disposed, by outcome"),
		metric.WithUnit("{session}"),
	)

	// Event metrics
	EventsHydrated, _ = meter.Int64Counter(
		"eventpulse.events.hydrated",
		metric.WithDescription("Number of persisted events replayed into aggregates"),
		metric.WithUnit("{event}"),
	)

	EventsFlushed, _ = meter.Int64Counter(
		"eventpulse.events.flushed",
		metric.WithDescription("Number of events persisted by completed sessions"),
		metric.WithUnit("{event}"),
	)

	EventsDiscarded, _ = meter.Int64Counter(
		"eventpulse.events.discarded",
		metric.WithDescription("Number of pending events dropped by abandoned sessions"),
		metric.WithUnit("{event}"),
	)

	FlushDuration, _ = meter.Float64Histogram(
		"eventpulse.session.flush.duration",
		metric.WithDescription("Duration of session flushes"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventpulse.concurrency.conflicts",
		metric.WithDescription("Number of flushes rejected because a revision was taken"),
		metric.WithUnit("{conflict}"),
	)
)

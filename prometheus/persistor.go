// Package prometheus exports StreamPersistor metrics to a Prometheus registry.
package prometheus

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/terraskye/eventpulse"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Metrics holds the collectors shared by every persistor wrapped with it.
type Metrics struct {
	loadDuration    *prometheus.HistogramVec
	persistDuration *prometheus.HistogramVec
	recordsLoaded   *prometheus.CounterVec
	recordsStored   *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	failures        *prometheus.CounterVec
	transactions    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventpulse_persistor_load_duration_seconds",
			Help:    "Stream load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_name"}),

		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventpulse_persistor_persist_duration_seconds",
			Help:    "Record persist latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_name"}),

		recordsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpulse_persistor_records_loaded_total",
			Help: "Total number of records read",
		}, []string{"stream_name"}),

		recordsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpulse_persistor_records_persisted_total",
			Help: "Total number of records accepted by the persistor",
		}, []string{"stream_name"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpulse_persistor_concurrency_conflicts_total",
			Help: "Total number of records rejected because the revision was taken",
		}, []string{"stream_name"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpulse_persistor_errors_total",
			Help: "Total number of failed persistor calls",
		}, []string{"operation"}),

		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventpulse_persistor_transactions_total",
			Help: "Total number of finished transactions by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.persistDuration,
		m.recordsLoaded,
		m.recordsStored,
		m.conflicts,
		m.failures,
		m.transactions,
	)
	return m
}

type persistorMetrics struct {
	m    *Metrics
	next eventpulse.StreamPersistor
}

type transactorMetrics struct {
	*persistorMetrics
	transactor eventpulse.Transactor
}

type batcherMetrics struct {
	*persistorMetrics
	batcher eventpulse.BatchPersistor
}

// WithPersistorMetrics wraps next so every call is counted and timed on m.
// When next implements eventpulse.Transactor or eventpulse.BatchPersistor, so
// does the returned persistor.
func WithPersistorMetrics(m *Metrics, next eventpulse.StreamPersistor) eventpulse.StreamPersistor {
	p := &persistorMetrics{m: m, next: next}
	if transactor, ok := next.(eventpulse.Transactor); ok {
		return &transactorMetrics{persistorMetrics: p, transactor: transactor}
	}
	if batcher, ok := next.(eventpulse.BatchPersistor); ok {
		return &batcherMetrics{persistorMetrics: p, batcher: batcher}
	}
	return p
}

func (p *persistorMetrics) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := p.m.persist(ctx, record, p.next.Persist); err != nil {
		return err
	}
	p.m.recordsStored.WithLabelValues(record.StreamName).Inc()
	return nil
}

func (p *persistorMetrics) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	start := time.Now()
	records, err := p.next.GetEvents(ctx, streamName, streamID)
	p.m.loadDuration.WithLabelValues(streamName).Observe(time.Since(start).Seconds())

	if err != nil {
		p.m.failures.WithLabelValues("get_events").Inc()
		return records, err
	}
	p.m.recordsLoaded.WithLabelValues(streamName).Add(float64(len(records)))
	return records, nil
}

func (p *batcherMetrics) PersistBatch(ctx context.Context, records []eventpulse.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	streamName := records[0].StreamName

	start := time.Now()
	err := p.batcher.PersistBatch(ctx, records)
	p.m.observePersist(streamName, start, err)
	if err != nil {
		return err
	}
	p.m.recordsStored.WithLabelValues(streamName).Add(float64(len(records)))
	return nil
}

func (p *transactorMetrics) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	tx, err := p.transactor.BeginTx(ctx)
	if err != nil {
		p.m.failures.WithLabelValues("begin").Inc()
		return nil, err
	}
	return &txMetrics{m: p.m, next: tx}, nil
}

// txMetrics counts records persisted in a transaction once it commits.
type txMetrics struct {
	m       *Metrics
	next    eventpulse.PersistorTx
	pending map[string]int
}

func (t *txMetrics) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := t.m.persist(ctx, record, t.next.Persist); err != nil {
		return err
	}
	if t.pending == nil {
		t.pending = make(map[string]int)
	}
	t.pending[record.StreamName]++
	return nil
}

func (t *txMetrics) Commit() error {
	if err := t.next.Commit(); err != nil {
		t.m.failures.WithLabelValues("commit").Inc()
		t.m.transactions.WithLabelValues("failed").Inc()
		return err
	}
	for streamName, n := range t.pending {
		t.m.recordsStored.WithLabelValues(streamName).Add(float64(n))
	}
	t.pending = nil
	t.m.transactions.WithLabelValues("committed").Inc()
	return nil
}

func (t *txMetrics) Rollback() error {
	t.pending = nil
	if err := t.next.Rollback(); err != nil {
		t.m.failures.WithLabelValues("rollback").Inc()
		return err
	}
	t.m.transactions.WithLabelValues("rolled_back").Inc()
	return nil
}

// persist times one write and counts its failure.
func (m *Metrics) persist(ctx context.Context, record eventpulse.EventRecord, next func(context.Context, eventpulse.EventRecord) error) error {
	start := time.Now()
	err := next(ctx, record)
	m.observePersist(record.StreamName, start, err)
	return err
}

func (m *Metrics) observePersist(streamName string, start time.Time, err error) {
	m.persistDuration.WithLabelValues(streamName).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, eventpulse.ErrConcurrencyConflict):
		m.conflicts.WithLabelValues(streamName).Inc()
	default:
		m.failures.WithLabelValues("persist").Inc()
	}
}

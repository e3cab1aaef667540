package prometheus

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/eventpulse"
	"github.com/terraskye/eventpulse/fixtures"
	"github.com/terraskye/eventpulse/persistor/memory"
)

func TestWithPersistorMetricsPreservesTransactor(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	p := WithPersistorMetrics(m, fixtures.NewPersistorSpy())
	_, ok := p.(eventpulse.Transactor)
	require.True(t, ok)

	p = WithPersistorMetrics(m, fixtures.NonTransactional{StreamPersistor: fixtures.NewPersistorSpy()})
	_, ok = p.(eventpulse.Transactor)
	require.False(t, ok)
}

func TestWithPersistorMetricsPreservesBatchPersistor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	inner := &fixtures.Batching{StreamPersistor: memory.NewPersistor()}

	p := WithPersistorMetrics(m, inner)
	_, isTransactor := p.(eventpulse.Transactor)
	require.False(t, isTransactor)
	batcher, ok := p.(eventpulse.BatchPersistor)
	require.True(t, ok)

	ctx := context.Background()
	records := fixtures.RecordsFor(fixtures.CounterStream, "c-1",
		fixtures.Opened{ID: "c-1"},
		fixtures.Incremented{By: 1},
	)
	require.NoError(t, batcher.PersistBatch(ctx, records))
	require.Equal(t, 1, inner.Batches)
	require.Equal(t, 2.0, testutil.ToFloat64(m.recordsStored.WithLabelValues(fixtures.CounterStream)))

	require.Error(t, batcher.PersistBatch(ctx, records[:1]))
	require.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues(fixtures.CounterStream)))
}

func TestPersistAndLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := WithPersistorMetrics(m, fixtures.NonTransactional{StreamPersistor: fixtures.NewPersistorSpy()})
	ctx := context.Background()

	for _, r := range fixtures.RecordsFor(fixtures.CounterStream, "c-1",
		fixtures.Opened{ID: "c-1"},
		fixtures.Incremented{By: 1},
	) {
		require.NoError(t, p.Persist(ctx, r))
	}

	records, err := p.GetEvents(ctx, fixtures.CounterStream, "c-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.recordsStored.WithLabelValues(fixtures.CounterStream)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.recordsLoaded.WithLabelValues(fixtures.CounterStream)))
	require.Equal(t, 1, testutil.CollectAndCount(m.persistDuration))
	require.Equal(t, 1, testutil.CollectAndCount(m.loadDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(t, names["eventpulse_persistor_records_persisted_total"])
	require.True(t, names["eventpulse_persistor_load_duration_seconds"])
}

func TestFailuresAndConflicts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	conflicting := WithPersistorMetrics(m, fixtures.NonTransactional{StreamPersistor: fixtures.ConflictingPersistor(1)})
	err := conflicting.Persist(ctx, fixtures.NewRecord(fixtures.Opened{ID: "counter-1"}))
	require.ErrorIs(t, err, eventpulse.ErrConcurrencyConflict)
	require.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues(fixtures.CounterStream)))

	failing := WithPersistorMetrics(m, fixtures.FailingPersistor(fixtures.ErrBackend))
	_, err = failing.GetEvents(ctx, fixtures.CounterStream, "counter-1")
	require.ErrorIs(t, err, fixtures.ErrBackend)
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("get_events")))

	_, err = failing.(eventpulse.Transactor).BeginTx(ctx)
	require.ErrorIs(t, err, fixtures.ErrBackend)
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("begin")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.recordsStored.WithLabelValues(fixtures.CounterStream)))
}

func TestSessionFlushThroughTransaction(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	spy := fixtures.NewPersistorSpy()
	factory := eventpulse.NewSessionFactory(fixtures.NewRegistry(), WithPersistorMetrics(m, spy))

	err := factory.Run(context.Background(), func(ctx context.Context, s *eventpulse.Session) error {
		c, err := fixtures.OpenCounter(ctx, "c-1", 0)
		if err != nil {
			return err
		}
		return c.Increment(ctx, 1)
	})
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(m.recordsStored.WithLabelValues(fixtures.CounterStream)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("committed")))

	spy.FailOnPersist(0, fixtures.ErrBackend)
	err = factory.Run(context.Background(), func(ctx context.Context, s *eventpulse.Session) error {
		_, err := fixtures.OpenCounter(ctx, "c-2", 0)
		return err
	})
	require.ErrorIs(t, err, fixtures.ErrBackend)
	require.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("rolled_back")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.recordsStored.WithLabelValues(fixtures.CounterStream)))
}

package logging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/terraskye/eventpulse"
)

type persistorLogger struct {
	logger *logrus.Entry
	next   eventpulse.StreamPersistor
}

type transactorLogger struct {
	*persistorLogger
	transactor eventpulse.Transactor
}

type batcherLogger struct {
	*persistorLogger
	batcher eventpulse.BatchPersistor
}

// WithPersistorLogging wraps a StreamPersistor with logging functionality.
// Reads and writes are logged at debug level, failures at error level and
// concurrency conflicts at warning level. When next implements
// eventpulse.Transactor or eventpulse.BatchPersistor, so does the returned
// persistor.
func WithPersistorLogging(logger *logrus.Entry, next eventpulse.StreamPersistor) eventpulse.StreamPersistor {
	p := &persistorLogger{logger: logger, next: next}
	if transactor, ok := next.(eventpulse.Transactor); ok {
		return &transactorLogger{persistorLogger: p, transactor: transactor}
	}
	if batcher, ok := next.(eventpulse.BatchPersistor); ok {
		return &batcherLogger{persistorLogger: p, batcher: batcher}
	}
	return p
}

func (p *persistorLogger) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	return persist(ctx, p.logger, record, p.next.Persist)
}

func (p *persistorLogger) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	l := p.logger.WithFields(logrus.Fields{
		"stream_name": streamName,
		"stream_id":   streamID,
	})
	l.Debug("Load stream")

	records, err := p.next.GetEvents(ctx, streamName, streamID)
	if err != nil {
		l.WithError(err).Error("Load stream failed")
		return records, err
	}

	l.WithField("events", len(records)).Debug("Stream loaded")
	return records, nil
}

func (p *batcherLogger) PersistBatch(ctx context.Context, records []eventpulse.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	first, last := records[0], records[len(records)-1]
	l := p.logger.WithFields(logrus.Fields{
		"stream_name":   first.StreamName,
		"stream_id":     first.StreamID,
		"from_revision": first.Revision,
		"to_revision":   last.Revision,
	})

	err := p.batcher.PersistBatch(ctx, records)
	switch {
	case err == nil:
		l.Debugf("Persisted %d records", len(records))
	case errors.Is(err, eventpulse.ErrConcurrencyConflict):
		l.WithError(err).Warn("Persist conflicted")
	default:
		l.WithError(err).Error("Persist failed")
	}
	return err
}

func (p *transactorLogger) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	tx, err := p.transactor.BeginTx(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Begin transaction failed")
		return nil, err
	}
	p.logger.Debug("Transaction started")
	return &txLogger{logger: p.logger, next: tx}, nil
}

type txLogger struct {
	logger *logrus.Entry
	next   eventpulse.PersistorTx
	count  int
}

func (t *txLogger) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	err := persist(ctx, t.logger, record, t.next.Persist)
	if err == nil {
		t.count++
	}
	return err
}

func (t *txLogger) Commit() error {
	if err := t.next.Commit(); err != nil {
		t.logger.WithError(err).Errorf("Commit of %d records failed", t.count)
		return err
	}
	t.logger.Debugf("Committed %d records", t.count)
	return nil
}

func (t *txLogger) Rollback() error {
	if err := t.next.Rollback(); err != nil {
		t.logger.WithError(err).Error("Rollback failed")
		return err
	}
	t.logger.Debugf("Rolled back after %d records", t.count)
	return nil
}

func persist(ctx context.Context, logger *logrus.Entry, record eventpulse.EventRecord, next func(context.Context, eventpulse.EventRecord) error) error {
	l := logger.WithFields(logrus.Fields{
		"stream_name": record.StreamName,
		"stream_id":   record.StreamID,
		"revision":    record.Revision,
		"event_type":  record.EventType,
	})

	err := next(ctx, record)
	switch {
	case err == nil:
		l.Debug("Persisted")
	case errors.Is(err, eventpulse.ErrConcurrencyConflict):
		l.WithError(err).Warn("Persist conflicted")
	default:
		l.WithError(err).Error("Persist failed")
	}
	return err
}

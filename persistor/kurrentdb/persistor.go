// Package kurrentdb persists event records to KurrentDB. Every (stream name,
// stream id) pair maps to one KurrentDB stream named "<name>-<id>".
//
// KurrentDB has no transactions spanning streams, so the persistor does not
// implement eventpulse.Transactor. It implements eventpulse.BatchPersistor:
// consecutive records of one stream are appended together, but a session
// touching several streams may be partially written when a later append
// fails.
package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/terraskye/eventpulse"
)

var (
	_ eventpulse.StreamPersistor = (*Persistor)(nil)
	_ eventpulse.BatchPersistor  = (*Persistor)(nil)
)

type Persistor struct {
	client *kurrentdb.Client
}

// NewPersistor creates a KurrentDB-backed persistor.
func NewPersistor(client *kurrentdb.Client) *Persistor {
	return &Persistor{client: client}
}

// Dial connects to the KurrentDB server at url, for example
// "kurrentdb://localhost:2113?tls=false".
func Dial(url string) (*Persistor, error) {
	cfg, err := kurrentdb.ParseConnectionString(url)
	if err != nil {
		return nil, fmt.Errorf("parse kurrentdb connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kurrentdb client: %w", err)
	}
	return NewPersistor(client), nil
}

// StreamName returns the KurrentDB stream holding (streamName, streamID).
func StreamName(streamName, streamID string) string {
	return streamName + "-" + streamID
}

type recordMetadata struct {
	StreamName string    `json:"stream_name"`
	StreamID   string    `json:"stream_id"`
	Revision   uint64    `json:"revision"`
	Timestamp  time.Time `json:"timestamp"`
}

// Persist appends record, expecting the KurrentDB stream to end right before
// record.Revision. Any other position is a concurrency conflict.
func (p *Persistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	return p.PersistBatch(ctx, []eventpulse.EventRecord{record})
}

// PersistBatch appends records of one stream with consecutive revisions in a
// single append, so either all of them are stored or none.
func (p *Persistor) PersistBatch(ctx context.Context, records []eventpulse.EventRecord) error {
	if err := checkBatch(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	events := make([]kurrentdb.EventData, 0, len(records))
	for _, record := range records {
		event, err := eventData(record)
		if err != nil {
			return err
		}
		events = append(events, event)
	}

	first, last := records[0], records[len(records)-1]
	_, err := p.client.AppendToStream(ctx, StreamName(first.StreamName, first.StreamID), kurrentdb.AppendToStreamOptions{
		StreamState: expectedState(first.Revision),
	}, events...)
	if err == nil {
		return nil
	}
	return appendError(first, last, errorCode(err), err)
}

func checkBatch(records []eventpulse.EventRecord) error {
	for i, record := range records {
		if record.Revision == 0 {
			return fmt.Errorf("stream %q/%q: revision must start at 1: %w",
				record.StreamName, record.StreamID, eventpulse.ErrRevisionSequence)
		}
		if i == 0 {
			continue
		}
		prev := records[i-1]
		if record.StreamName != prev.StreamName || record.StreamID != prev.StreamID {
			return fmt.Errorf("batch mixes streams %q/%q and %q/%q",
				prev.StreamName, prev.StreamID, record.StreamName, record.StreamID)
		}
		if record.Revision != prev.Revision+1 {
			return fmt.Errorf("stream %q/%q: revision %d follows %d: %w",
				record.StreamName, record.StreamID, record.Revision, prev.Revision, eventpulse.ErrRevisionSequence)
		}
	}
	return nil
}

func eventData(record eventpulse.EventRecord) (kurrentdb.EventData, error) {
	metadata, err := json.Marshal(recordMetadata{
		StreamName: record.StreamName,
		StreamID:   record.StreamID,
		Revision:   record.Revision,
		Timestamp:  record.Timestamp,
	})
	if err != nil {
		return kurrentdb.EventData{}, err
	}

	return kurrentdb.EventData{
		EventID:     uuid.New(),
		EventType:   record.EventType,
		ContentType: kurrentdb.ContentTypeJson,
		Data:        record.EventData,
		Metadata:    metadata,
	}, nil
}

// expectedState is the position the KurrentDB stream must be at before
// revision is appended. KurrentDB event numbers start at 0.
func expectedState(revision uint64) kurrentdb.StreamState {
	if revision <= 1 {
		return kurrentdb.NoStream{}
	}
	return kurrentdb.StreamRevision{Value: revision - 2}
}

func appendError(first, last eventpulse.EventRecord, code kurrentdb.ErrorCode, err error) error {
	if code == kurrentdb.ErrorCodeWrongExpectedVersion {
		return &eventpulse.ConcurrencyConflictError{
			StreamName: first.StreamName,
			StreamID:   first.StreamID,
			Revision:   first.Revision,
			Err:        err,
		}
	}
	if first.Revision == last.Revision {
		return fmt.Errorf("append %q/%q revision %d: %w", first.StreamName, first.StreamID, first.Revision, err)
	}
	return fmt.Errorf("append %q/%q revisions %d-%d: %w", first.StreamName, first.StreamID, first.Revision, last.Revision, err)
}

// GetEvents reads the whole KurrentDB stream forwards. A stream that does not
// exist is empty.
func (p *Persistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	stream, err := p.client.ReadStream(ctx, StreamName(streamName, streamID), kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.Start{},
	}, math.MaxInt64)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream %q/%q: %w", streamName, streamID, err)
	}
	defer stream.Close()

	var records []eventpulse.EventRecord
	for {
		resolved, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			if hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("read stream %q/%q: %w", streamName, streamID, err)
		}

		ev := resolved.Event
		if ev == nil {
			continue
		}
		records = append(records, eventpulse.EventRecord{
			StreamName: streamName,
			StreamID:   streamID,
			Revision:   ev.EventNumber + 1,
			EventType:  ev.EventType,
			EventData:  ev.Data,
			Timestamp:  ev.CreatedDate,
		})
	}
}

// Close closes the KurrentDB client.
func (p *Persistor) Close() error {
	return p.client.Close()
}

func hasCode(err error, code kurrentdb.ErrorCode) bool {
	return errorCode(err) == code
}

func errorCode(err error) kurrentdb.ErrorCode {
	var kErr *kurrentdb.Error
	if errors.As(err, &kErr) {
		return kErr.Code()
	}
	return kurrentdb.ErrorCodeUnknown
}

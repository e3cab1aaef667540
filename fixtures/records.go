package fixtures

import (
	"encoding/json"
	"time"

	"github.com/terraskye/eventpulse"
)

// RecordOption is a functional option for configuring an EventRecord.
type RecordOption func(*eventpulse.EventRecord)

// NewRecord creates the record of event at revision 1 of the Counter stream
// "counter-1", with the event encoded as JSON.
func NewRecord(event eventpulse.Event, opts ...RecordOption) eventpulse.EventRecord {
	data, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}

	r := eventpulse.EventRecord{
		StreamName: CounterStream,
		StreamID:   "counter-1",
		Revision:   1,
		EventType:  event.EventType(),
		EventData:  data,
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithStream sets the stream identity.
func WithStream(name, id string) RecordOption {
	return func(r *eventpulse.EventRecord) {
		r.StreamName = name
		r.StreamID = id
	}
}

// WithRevision sets the revision.
func WithRevision(revision uint64) RecordOption {
	return func(r *eventpulse.EventRecord) {
		r.Revision = revision
	}
}

// WithEventData overrides the encoded payload.
func WithEventData(data []byte) RecordOption {
	return func(r *eventpulse.EventRecord) {
		r.EventData = data
	}
}

// RecordsFor encodes events as consecutive records of one stream starting at
// revision 1.
func RecordsFor(streamName, streamID string, events ...eventpulse.Event) []eventpulse.EventRecord {
	records := make([]eventpulse.EventRecord, len(events))
	for i, ev := range events {
		records[i] = NewRecord(ev, WithStream(streamName, streamID), WithRevision(uint64(i+1)))
	}
	return records
}

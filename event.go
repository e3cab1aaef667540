package eventpulse

import (
	"time"
)

// Event is a domain event describing a change that has happened to an aggregate.
//
// EventType returns the stable tag the event is stored under. It must survive
// process restarts and must not collide with other variants of the same stream.
type Event interface {
	EventType() string
}

// EventRecord is the stored form of an event.
type EventRecord struct {
	StreamName string
	StreamID   string
	Revision   uint64
	EventType  string
	EventData  []byte
	Timestamp  time.Time
}

// EventEntry is an event recorded during a session and not yet persisted.
type EventEntry struct {
	StreamName string
	StreamID   string
	Revision   uint64
	Event      Event
}

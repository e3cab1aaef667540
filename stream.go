package eventpulse

import (
	"context"
	"fmt"
)

// EventStream is the event buffer an aggregate keeps for its own stream.
//
// It routes every appended event either to replay, when the aggregate is being
// rebuilt by Session.Find, or to the session's pending list with the next
// revision of the stream.
type EventStream struct {
	streamName string
	streamID   string
	events     []Event
	hydrated   bool
	revision   uint64
}

// NewEventStream creates the stream buffer for one aggregate instance.
func NewEventStream(streamName, streamID string) *EventStream {
	return &EventStream{
		streamName: streamName,
		streamID:   streamID,
		events:     make([]Event, 0),
		hydrated:   true,
	}
}

// StreamName returns the name of the stream.
func (s *EventStream) StreamName() string {
	return s.streamName
}

// StreamID returns the id of the stream.
func (s *EventStream) StreamID() string {
	return s.streamID
}

// Revision returns the revision of the last recorded event, or 0 if nothing
// was recorded live yet.
func (s *EventStream) Revision() uint64 {
	return s.revision
}

// Events returns a copy of every event appended to the stream, replayed and
// recorded alike.
func (s *EventStream) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Append adds event to the stream. During hydration the event is only
// replayed; otherwise it is recorded on the session bound to ctx.
func (s *EventStream) Append(ctx context.Context, event Event) error {
	if IsHydrating(ctx) {
		s.Replay(event)
		return nil
	}
	return s.Record(ctx, event)
}

// Replay adds an already persisted event. It is never tracked and does not
// assign a revision.
func (s *EventStream) Replay(event Event) {
	s.events = append(s.events, event)
	s.hydrated = false
}

// Record assigns the next revision to event and tracks it on the session
// bound to ctx.
//
// The first recorded event after a replay continues right after the replayed
// history, so revisions stay contiguous with what is already persisted.
func (s *EventStream) Record(ctx context.Context, event Event) error {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return fmt.Errorf("record %s on stream %q/%q: %w", event.EventType(), s.streamName, s.streamID, ErrNoSession)
	}

	revision := s.revision
	if !s.hydrated {
		revision = uint64(len(s.events))
	}
	revision++

	if err := session.Track(EventEntry{
		StreamName: s.streamName,
		StreamID:   s.streamID,
		Revision:   revision,
		Event:      event,
	}); err != nil {
		return fmt.Errorf("record %s on stream %q/%q: %w", event.EventType(), s.streamName, s.streamID, err)
	}

	s.events = append(s.events, event)
	s.revision = revision
	s.hydrated = true
	return nil
}

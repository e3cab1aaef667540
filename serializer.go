package eventpulse

import "context"

// StreamSerializer converts the events of one stream type to and from their
// stored form and folds them into aggregate state.
type StreamSerializer interface {
	// Encode returns the stable type tag and payload for event.
	Encode(event Event) (eventType string, eventData []byte, err error)

	// Decode is the inverse of Encode.
	Decode(eventType string, eventData []byte) (Event, error)

	// Aggregate applies event to state and returns the new state. A creating
	// event ignores state; every other event requires it.
	//
	// ctx is the hydration context handed out by Session.Find; aggregates pass
	// it on to EventStream.Append so replayed events are not tracked again.
	Aggregate(ctx context.Context, state any, event Event) (any, error)
}

package fixtures

import (
	"context"
	"errors"

	"github.com/terraskye/eventpulse"
)

// CounterStream is the stream name of the Counter test aggregate.
const CounterStream = "Counter"

var ErrNegativeIncrement = errors.New("increment must not be negative")

// Opened creates a counter.
type Opened struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
}

func (Opened) EventType() string { return "Counter.Opened" }

// Incremented adds By to a counter.
type Incremented struct {
	By int `json:"by"`
}

func (Incremented) EventType() string { return "Counter.Incremented" }

// Unregistered is an event no codec knows about.
type Unregistered struct{}

func (Unregistered) EventType() string { return "Counter.Unregistered" }

// Counter is a minimal aggregate over an EventStream.
type Counter struct {
	Stream *eventpulse.EventStream
	Value  int
}

// OpenCounter creates a counter and appends Opened to its stream.
func OpenCounter(ctx context.Context, id string, start int) (*Counter, error) {
	c := &Counter{
		Stream: eventpulse.NewEventStream(CounterStream, id),
		Value:  start,
	}
	if err := c.Stream.Append(ctx, Opened{ID: id, Start: start}); err != nil {
		return nil, err
	}
	return c, nil
}

// Increment appends Incremented and applies it.
func (c *Counter) Increment(ctx context.Context, by int) error {
	if by < 0 {
		return ErrNegativeIncrement
	}
	if err := c.Stream.Append(ctx, Incremented{By: by}); err != nil {
		return err
	}
	c.Value += by
	return nil
}

// NewCounterCodec returns the serializer of the Counter stream.
func NewCounterCodec() *eventpulse.Codec[*Counter] {
	codec := eventpulse.NewCodec[*Counter](CounterStream)
	eventpulse.OnCreate(codec, func(ctx context.Context, ev Opened) (*Counter, error) {
		return OpenCounter(ctx, ev.ID, ev.Start)
	})
	eventpulse.OnEvent(codec, func(ctx context.Context, c *Counter, ev Incremented) (*Counter, error) {
		return c, c.Increment(ctx, ev.By)
	})
	return codec
}

// NewRegistry returns a registry holding the Counter codec.
func NewRegistry() *eventpulse.SerializerRegistry {
	registry := eventpulse.NewSerializerRegistry()
	registry.MustRegister(CounterStream, NewCounterCodec())
	return registry
}

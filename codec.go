package eventpulse

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

var _ StreamSerializer = (*Codec[any])(nil)

// Codec is a StreamSerializer for aggregates of type S. Every event variant
// of the stream is declared up front with OnCreate or OnEvent, which gives a
// closed table from type tag to decoder and fold step. Payloads are JSON.
//
// Example Usage:
//
//	codec := NewCodec[*Booking]("Booking")
//	OnCreate(codec, func(ctx context.Context, ev BookingCreated) (*Booking, error) {
//	    return NewBooking(ctx, ev)
//	})
//	OnEvent(codec, func(ctx context.Context, b *Booking, ev BookingPaid) (*Booking, error) {
//	    return b, b.RegisterPayment(ctx, ev)
//	})
type Codec[S any] struct {
	streamName string
	entries    map[string]codecEntry[S]
}

type codecEntry[S any] struct {
	eventType reflect.Type
	creates   bool
	decode    func(data []byte) (Event, error)
	fold      func(ctx context.Context, state S, event Event) (S, error)
}

// NewCodec creates an empty codec for the named stream.
func NewCodec[S any](streamName string) *Codec[S] {
	return &Codec[S]{
		streamName: streamName,
		entries:    make(map[string]codecEntry[S]),
	}
}

// OnCreate declares E as a creating event: folding it builds fresh state and
// ignores whatever came before.
//
// Panics if the tag of E is already declared on the codec.
func OnCreate[S any, E Event](c *Codec[S], fn func(ctx context.Context, event E) (S, error)) *Codec[S] {
	register(c, true, func(ctx context.Context, _ S, event E) (S, error) {
		return fn(ctx, event)
	})
	return c
}

// OnEvent declares E as a mutating event that needs existing state.
//
// Panics if the tag of E is already declared on the codec.
func OnEvent[S any, E Event](c *Codec[S], fn func(ctx context.Context, state S, event E) (S, error)) *Codec[S] {
	register(c, false, fn)
	return c
}

func register[S any, E Event](c *Codec[S], creates bool, fn func(ctx context.Context, state S, event E) (S, error)) {
	if fn == nil {
		panic("cannot register nil fold function")
	}

	tag := newEvent[E]().EventType()
	if _, exists := c.entries[tag]; exists {
		panic(fmt.Sprintf("event already registered on stream %s: %s", c.streamName, tag))
	}

	c.entries[tag] = codecEntry[S]{
		eventType: reflect.TypeOf(newEvent[E]()),
		creates:   creates,
		decode: func(data []byte) (Event, error) {
			ev := newEvent[E]()
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, fmt.Errorf("decode %s: %w", tag, err)
			}
			return ev, nil
		},
		fold: func(ctx context.Context, state S, event Event) (S, error) {
			return fn(ctx, state, event.(E))
		},
	}
}

// newEvent returns a usable zero value of E, allocating when E is a pointer.
func newEvent[E Event]() E {
	var zero E
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(E)
	}
	return zero
}

// StreamName returns the stream the codec was built for.
func (c *Codec[S]) StreamName() string {
	return c.streamName
}

// EventTypes returns the sorted tags declared on the codec.
func (c *Codec[S]) EventTypes() []string {
	out := make([]string, 0, len(c.entries))
	for tag := range c.entries {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (c *Codec[S]) lookup(event Event) (codecEntry[S], error) {
	if event == nil {
		return codecEntry[S]{}, &UnsupportedEventTypeError{StreamName: c.streamName, EventType: "<nil>"}
	}
	entry, ok := c.entries[event.EventType()]
	if !ok || entry.eventType != reflect.TypeOf(event) {
		return codecEntry[S]{}, &UnsupportedEventTypeError{
			StreamName: c.streamName,
			EventType:  fmt.Sprintf("%s (%T)", event.EventType(), event),
		}
	}
	return entry, nil
}

// Encode implements StreamSerializer.
func (c *Codec[S]) Encode(event Event) (string, []byte, error) {
	if _, err := c.lookup(event); err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	return event.EventType(), data, nil
}

// Decode implements StreamSerializer.
func (c *Codec[S]) Decode(eventType string, eventData []byte) (Event, error) {
	entry, ok := c.entries[eventType]
	if !ok {
		return nil, &UnsupportedEventTypeError{StreamName: c.streamName, EventType: eventType}
	}
	return entry.decode(eventData)
}

// Aggregate implements StreamSerializer.
func (c *Codec[S]) Aggregate(ctx context.Context, state any, event Event) (any, error) {
	entry, err := c.lookup(event)
	if err != nil {
		return nil, err
	}

	var current S
	if state != nil {
		s, ok := state.(S)
		if !ok {
			return nil, fmt.Errorf("stream %q: state has type %T, want %T", c.streamName, state, current)
		}
		current = s
	} else if !entry.creates {
		return nil, fmt.Errorf("stream %q: apply %s: %w", c.streamName, event.EventType(), ErrMissingState)
	}

	next, err := entry.fold(ctx, current, event)
	if err != nil {
		return nil, err
	}
	return next, nil
}

package booking

import (
	"context"

	"github.com/terraskye/eventpulse"
)

// NewCodec returns the serializer of the Booking stream.
func NewCodec() *eventpulse.Codec[*Booking] {
	codec := eventpulse.NewCodec[*Booking](StreamName)

	eventpulse.OnCreate(codec, func(ctx context.Context, ev BookingCreated) (*Booking, error) {
		return Create(ctx, ev)
	})
	eventpulse.OnEvent(codec, func(ctx context.Context, b *Booking, ev BookingPaid) (*Booking, error) {
		return b, b.RegisterPayment(ctx, ev)
	})
	eventpulse.OnEvent(codec, func(ctx context.Context, b *Booking, ev BookingCancelled) (*Booking, error) {
		return b, b.Cancel(ctx, ev)
	})

	return codec
}

// Register binds the Booking codec on registry.
func Register(registry *eventpulse.SerializerRegistry) error {
	return registry.Register(StreamName, NewCodec())
}

// Load rebuilds the booking with the given id. The boolean is false when no
// such booking was ever stored.
func Load(ctx context.Context, s *eventpulse.Session, id int64) (*Booking, bool, error) {
	return eventpulse.Find[*Booking](ctx, s, StreamName, StreamID(id))
}

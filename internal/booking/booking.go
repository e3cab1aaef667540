// Package booking is a small hotel booking aggregate stored as an event stream.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/terraskye/eventpulse"
)

// StreamName is the stream every booking is stored under.
const StreamName = "Booking"

var (
	ErrOverpayment      = errors.New("amount paid is greater than total price")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrBookingCancelled = errors.New("booking is cancelled")
	ErrInvalidStay      = errors.New("check out must be after check in")
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusCancelled Status = "cancelled"
)

type Booking struct {
	events *eventpulse.EventStream

	id         int64
	roomID     int64
	guestID    int64
	checkIn    time.Time
	checkOut   time.Time
	totalPrice int64
	amountPaid int64
	status     Status
}

// StreamID returns the stream id of the booking with the given id.
func StreamID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// NewBookingCreated builds the creation event of a new booking with the next
// id of g.
func NewBookingCreated(g *Generator, roomID, guestID int64, checkIn, checkOut time.Time, totalPrice, amountPaid int64) BookingCreated {
	return BookingCreated{
		BookingID:  Next[BookingCreated](g),
		RoomID:     roomID,
		GuestID:    guestID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		TotalPrice: totalPrice,
		AmountPaid: amountPaid,
	}
}

// Create starts a booking from created and appends the event to its stream.
func Create(ctx context.Context, created BookingCreated) (*Booking, error) {
	if !created.CheckOut.After(created.CheckIn) {
		return nil, ErrInvalidStay
	}
	if created.TotalPrice < 0 || created.AmountPaid < 0 {
		return nil, ErrInvalidAmount
	}
	if created.AmountPaid > created.TotalPrice {
		return nil, ErrOverpayment
	}

	b := &Booking{
		events:     eventpulse.NewEventStream(StreamName, StreamID(created.BookingID)),
		id:         created.BookingID,
		roomID:     created.RoomID,
		guestID:    created.GuestID,
		checkIn:    created.CheckIn,
		checkOut:   created.CheckOut,
		totalPrice: created.TotalPrice,
		amountPaid: created.AmountPaid,
		status:     StatusOpen,
	}
	if err := b.events.Append(ctx, created); err != nil {
		return nil, fmt.Errorf("create booking %d: %w", created.BookingID, err)
	}
	return b, nil
}

// RegisterPayment records a payment. Paying more than the pending amount is
// rejected and nothing is appended.
func (b *Booking) RegisterPayment(ctx context.Context, payment BookingPaid) error {
	if b.status == StatusCancelled {
		return fmt.Errorf("pay booking %d: %w", b.id, ErrBookingCancelled)
	}
	if payment.AmountPaid <= 0 {
		return fmt.Errorf("pay booking %d: %w", b.id, ErrInvalidAmount)
	}
	if b.amountPaid+payment.AmountPaid > b.totalPrice {
		return fmt.Errorf("pay booking %d: %w", b.id, ErrOverpayment)
	}

	if err := b.events.Append(ctx, payment); err != nil {
		return fmt.Errorf("pay booking %d: %w", b.id, err)
	}
	b.amountPaid += payment.AmountPaid
	return nil
}

// Cancel records the cancellation of the booking.
func (b *Booking) Cancel(ctx context.Context, cancelled BookingCancelled) error {
	if b.status == StatusCancelled {
		return fmt.Errorf("cancel booking %d: %w", b.id, ErrBookingCancelled)
	}

	if err := b.events.Append(ctx, cancelled); err != nil {
		return fmt.Errorf("cancel booking %d: %w", b.id, err)
	}
	b.status = StatusCancelled
	return nil
}

func (b *Booking) ID() int64 { return b.id }
func (b *Booking) RoomID() int64 { return b.roomID }
func (b *Booking) GuestID() int64 { return b.guestID }
func (b *Booking) CheckIn() time.Time { return b.checkIn }
func (b *Booking) CheckOut() time.Time { return b.checkOut }
func (b *Booking) TotalPrice() int64 { return b.totalPrice }
func (b *Booking) AmountPaid() int64 { return b.amountPaid }
func (b *Booking) Status() Status { return b.status }
func (b *Booking) PendingAmount() int64 { return b.totalPrice - b.amountPaid }
func (b *Booking) Events() []eventpulse.Event {
	return b.events.Events()
}

package booking

import "time"

// Amounts are in minor currency units.

type BookingCreated struct {
	BookingID  int64     `json:"bookingId"`
	RoomID     int64     `json:"roomId"`
	GuestID    int64     `json:"guestId"`
	CheckIn    time.Time `json:"checkIn"`
	CheckOut   time.Time `json:"checkOut"`
	TotalPrice int64     `json:"totalPrice"`
	AmountPaid int64     `json:"amountPaid"`
}

func (BookingCreated) EventType() string { return "V1.BookingCreated" }

type BookingPaid struct {
	AmountPaid int64     `json:"amountPaid"`
	PaidAt     time.Time `json:"paidAt"`
}

func (BookingPaid) EventType() string { return "V1.BookingPaid" }

type BookingCancelled struct {
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

func (BookingCancelled) EventType() string { return "V1.BookingCancelled" }

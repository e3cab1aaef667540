package eventpulse

import (
	"errors"
	"fmt"
	"testing"
)

func TestConcurrencyConflictError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := fmt.Errorf("flush: %w", &ConcurrencyConflictError{
		StreamName: "Total",
		StreamID:   "t-1",
		Revision:   2,
		Err:        cause,
	})

	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatal("expected ErrConcurrencyConflict")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to be unwrapped")
	}

	var conflict *ConcurrencyConflictError
	if !errors.As(err, &conflict) || conflict.Revision != 2 {
		t.Fatalf("expected conflict at revision 2, got %v", err)
	}
}

func TestWrapPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	conflict := &ConcurrencyConflictError{StreamName: "Total", StreamID: "t-1", Revision: 1}

	tests := []struct {
		name      string
		err       error
		wantNil   bool
		wantSame  bool
		wantCause error
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "plain error", err: cause, wantCause: cause},
		{name: "conflict kept as is", err: conflict, wantSame: true},
		{name: "already wrapped", err: &PersistenceError{Op: "persist", Err: cause}, wantSame: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapPersistenceError("persist", tt.err)
			switch {
			case tt.wantNil:
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
			case tt.wantSame:
				if got != tt.err {
					t.Fatalf("expected error unchanged, got %v", got)
				}
			default:
				var pe *PersistenceError
				if !errors.As(got, &pe) || pe.Op != "persist" {
					t.Fatalf("expected PersistenceError, got %v", got)
				}
				if !errors.Is(got, tt.wantCause) {
					t.Fatalf("expected cause %v in %v", tt.wantCause, got)
				}
			}
		})
	}
}

func TestUnsupportedEventTypeErrorMessage(t *testing.T) {
	err := &UnsupportedEventTypeError{StreamName: "Total", EventType: "Unknown"}
	if err.Error() != `stream "Total": event Unknown not supported` {
		t.Fatalf("unexpected message %q", err.Error())
	}

	err = &UnsupportedEventTypeError{EventType: "Unknown"}
	if err.Error() != "event Unknown not supported" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

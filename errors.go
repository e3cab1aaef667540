package eventpulse

import (
	"errors"
	"fmt"
)

var (
	ErrSerializerNotRegistered     = errors.New("serializer not registered")
	ErrSerializerAlreadyRegistered = errors.New("serializer already registered")
	ErrUnsupportedEventType        = errors.New("unsupported event type")
	ErrMissingState                = errors.New("event requires existing state")
	ErrConcurrencyConflict         = errors.New("concurrency conflict")
	ErrRevisionSequence            = errors.New("stream revisions out of sequence")

	ErrNoSession            = errors.New("no session in context")
	ErrSessionAlreadyBound  = errors.New("session already bound to context")
	ErrSessionDisposed      = errors.New("session disposed")
	ErrTrackDuringHydration = errors.New("event tracked during hydration")
)

// UnsupportedEventTypeError is returned when a serializer is given a tag or
// event variant it has no entry for.
type UnsupportedEventTypeError struct {
	StreamName string
	EventType  string
}

func (e *UnsupportedEventTypeError) Error() string {
	if e.StreamName == "" {
		return fmt.Sprintf("event %s not supported", e.EventType)
	}
	return fmt.Sprintf("stream %q: event %s not supported", e.StreamName, e.EventType)
}

func (e *UnsupportedEventTypeError) Is(target error) bool {
	return target == ErrUnsupportedEventType
}

// ConcurrencyConflictError signals that a revision was already taken by
// another writer.
type ConcurrencyConflictError struct {
	StreamName string
	StreamID   string
	Revision   uint64
	Err        error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q/%q: revision %d already exists", e.StreamName, e.StreamID, e.Revision)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistor %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// WrapPersistenceError wraps err unless it is nil or already a concurrency
// conflict, which callers match on directly.
func WrapPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

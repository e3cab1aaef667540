package eventpulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultFlushTimeout bounds how long Dispose may spend persisting a
// completed session.
const DefaultFlushTimeout = 3 * time.Second

// SessionFactory creates sessions that share one serializer registry and one
// persistor.
type SessionFactory struct {
	registry     *SerializerRegistry
	persistor    StreamPersistor
	logger       *logrus.Entry
	now          func() time.Time
	flushTimeout time.Duration
}

// SessionFactoryOption customizes a SessionFactory.
type SessionFactoryOption func(f *SessionFactory)

// WithLogger sets the entry sessions log their lifecycle to.
func WithLogger(logger *logrus.Entry) SessionFactoryOption {
	return func(f *SessionFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFlushTimeout bounds the time Dispose may spend persisting events.
// A zero or negative timeout only uses the deadline of the caller's context.
func WithFlushTimeout(timeout time.Duration) SessionFactoryOption {
	return func(f *SessionFactory) { f.flushTimeout = timeout }
}

// WithClock sets the clock used to timestamp persisted records.
func WithClock(now func() time.Time) SessionFactoryOption {
	return func(f *SessionFactory) {
		if now != nil {
			f.now = now
		}
	}
}

// NewSessionFactory returns a factory for sessions over registry and persistor.
//
// Usage:
//
//	registry := eventpulse.NewSerializerRegistry()
//	registry.MustRegister("Booking", booking.NewCodec())
//	factory := eventpulse.NewSessionFactory(registry, memory.NewPersistor(),
//	    eventpulse.WithLogger(logrus.NewEntry(logrus.StandardLogger())))
func NewSessionFactory(registry *SerializerRegistry, persistor StreamPersistor, opts ...SessionFactoryOption) *SessionFactory {
	silent := logrus.New()
	silent.SetOutput(io.Discard)

	f := &SessionFactory{
		registry:     registry,
		persistor:    persistor,
		logger:       logrus.NewEntry(silent),
		now:          time.Now,
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create starts a session and binds it to the returned context. Code that
// records events must run under that context.
//
// Returns ErrSessionAlreadyBound if ctx already carries a session that has not
// been disposed.
func (f *SessionFactory) Create(ctx context.Context) (context.Context, *Session, error) {
	if existing, ok := SessionFromContext(ctx); ok && !existing.IsDisposed() {
		return ctx, nil, fmt.Errorf("create session: %w (session %s)", ErrSessionAlreadyBound, existing.ID())
	}

	s := &Session{
		id:           uuid.New(),
		registry:     f.registry,
		persistor:    f.persistor,
		now:          f.now,
		flushTimeout: f.flushTimeout,
	}
	s.logger = f.logger.WithField("session_id", s.id.String())

	SessionsCreated.Add(ctx, 1)
	s.logger.Debug("session created")

	return withSession(ctx, s), s, nil
}

// Run executes fn as one unit of work. The session is completed when fn
// returns nil and is always disposed; errors of fn and Dispose are joined.
//
// Usage:
//
//	err := factory.Run(ctx, func(ctx context.Context, s *eventpulse.Session) error {
//	    b, ok, err := eventpulse.Find[*booking.Booking](ctx, s, booking.StreamName, id)
//	    if err != nil || !ok {
//	        return err
//	    }
//	    return b.RegisterPayment(ctx, 100)
//	})
func (f *SessionFactory) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	ctx, s, err := f.Create(ctx)
	if err != nil {
		return err
	}

	runErr := fn(ctx, s)
	if runErr == nil {
		s.Complete()
	}

	return errors.Join(runErr, s.Dispose(context.WithoutCancel(ctx)))
}

package eventpulse

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	sessionKey   ctxKey = "session"
	hydrationKey ctxKey = "hydration"
)

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func withHydration(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, hydrationKey, s)
}

// SessionFromContext returns the session bound to ctx, or false if there is none.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if v := ctx.Value(sessionKey); v != nil {
		if s, ok := v.(*Session); ok && s != nil {
			return s, true
		}
	}
	return nil, false
}

// SessionIDFromContext returns the id of the session bound to ctx or uuid.Nil.
func SessionIDFromContext(ctx context.Context) uuid.UUID {
	if s, ok := SessionFromContext(ctx); ok {
		return s.ID()
	}
	return uuid.Nil
}

// IsHydrating reports whether ctx was handed out by Session.Find and the
// session is still replaying persisted events.
func IsHydrating(ctx context.Context) bool {
	if v := ctx.Value(hydrationKey); v != nil {
		if s, ok := v.(*Session); ok && s != nil {
			return s.IsHydrating()
		}
	}
	return false
}

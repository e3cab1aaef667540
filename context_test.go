package eventpulse

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestSessionFromContext(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatal("expected no session on background context")
	}
	if id := SessionIDFromContext(context.Background()); id != uuid.Nil {
		t.Fatalf("expected nil id, got %s", id)
	}

	factory, _ := newTestFactory()
	ctx, s, err := factory.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Dispose(ctx)

	got, ok := SessionFromContext(ctx)
	if !ok || got != s {
		t.Fatal("expected the created session")
	}
	if SessionIDFromContext(ctx) != s.ID() {
		t.Fatal("expected the session id")
	}
}

func TestIsHydrating(t *testing.T) {
	factory, _ := newTestFactory()
	ctx, s, err := factory.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Dispose(ctx)

	if IsHydrating(ctx) {
		t.Fatal("session context must not report hydration")
	}

	hctx := withHydration(ctx, s)
	if IsHydrating(hctx) {
		t.Fatal("hydration context must follow the session counter")
	}

	s.beginHydration()
	if !IsHydrating(hctx) || !s.IsHydrating() {
		t.Fatal("expected hydration while the counter is raised")
	}
	if IsHydrating(ctx) {
		t.Fatal("plain session context must not report hydration")
	}

	s.beginHydration()
	s.endHydration()
	if !IsHydrating(hctx) {
		t.Fatal("nested hydration must keep the outer one alive")
	}

	s.endHydration()
	if IsHydrating(hctx) {
		t.Fatal("expected hydration to end")
	}
}

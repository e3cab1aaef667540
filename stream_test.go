package eventpulse

import (
	"context"
	"errors"
	"testing"
)

func TestEventStreamRecordWithoutSession(t *testing.T) {
	stream := NewEventStream("Total", "t-1")

	err := stream.Append(context.Background(), added{N: 1})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if len(stream.Events()) != 0 {
		t.Fatal("failed record must not buffer the event")
	}
}

func TestEventStreamRecordAssignsRevisions(t *testing.T) {
	factory, _ := newTestFactory()
	ctx, s, err := factory.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Dispose(ctx)

	stream := NewEventStream("Total", "t-1")
	for i := 0; i < 3; i++ {
		if err := stream.Append(ctx, added{N: i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	pending := s.Pending()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, entry := range pending {
		if entry.Revision != uint64(i+1) {
			t.Fatalf("entry %d: expected revision %d, got %d", i, i+1, entry.Revision)
		}
		if entry.StreamName != "Total" || entry.StreamID != "t-1" {
			t.Fatalf("entry %d: unexpected identity %s/%s", i, entry.StreamName, entry.StreamID)
		}
	}
	if stream.Revision() != 3 {
		t.Fatalf("expected revision 3, got %d", stream.Revision())
	}
}

func TestEventStreamContinuesAfterReplay(t *testing.T) {
	factory, _ := newTestFactory()
	ctx, s, err := factory.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Dispose(ctx)

	stream := NewEventStream("Total", "t-1")
	stream.Replay(opened{ID: "t-1"})
	stream.Replay(added{N: 1})

	if stream.Revision() != 0 {
		t.Fatalf("replay must not assign revisions, got %d", stream.Revision())
	}

	if err := stream.Record(ctx, added{N: 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := stream.Record(ctx, added{N: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}

	pending := s.Pending()
	if len(pending) != 2 || pending[0].Revision != 3 || pending[1].Revision != 4 {
		t.Fatalf("expected revisions 3 and 4, got %+v", pending)
	}
	if len(stream.Events()) != 4 {
		t.Fatalf("expected 4 buffered events, got %d", len(stream.Events()))
	}
}

func TestEventStreamRejectedTrackLeavesStreamUnchanged(t *testing.T) {
	factory, _ := newTestFactory()
	ctx, s, err := factory.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Dispose(ctx); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	stream := NewEventStream("Total", "t-1")
	err = stream.Record(ctx, added{N: 1})
	if !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("expected ErrSessionDisposed, got %v", err)
	}
	if stream.Revision() != 0 || len(stream.Events()) != 0 {
		t.Fatal("stream must be unchanged after a rejected record")
	}
}

func TestEventStreamEventsIsCopy(t *testing.T) {
	stream := NewEventStream("Total", "t-1")
	stream.Replay(added{N: 1})

	events := stream.Events()
	events[0] = added{N: 99}

	if stream.Events()[0] != (added{N: 1}) {
		t.Fatal("Events must return a copy")
	}
}

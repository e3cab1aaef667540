package eventpulse

import (
	"context"
	"sync"
)

type opened struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
}

func (opened) EventType() string { return "Opened" }

type added struct {
	N int `json:"n"`
}

func (added) EventType() string { return "Added" }

// ptrEvent is registered by pointer.
type ptrEvent struct {
	Label string `json:"label"`
}

func (*ptrEvent) EventType() string { return "Pointer" }

type unknownEvent struct{}

func (unknownEvent) EventType() string { return "Unknown" }

// impostor shares the tag of added with a different Go type.
type impostor struct{}

func (impostor) EventType() string { return "Added" }

type total struct {
	stream *EventStream
	sum    int
}

func newTotalCodec() *Codec[*total] {
	c := NewCodec[*total]("Total")
	OnCreate(c, func(ctx context.Context, ev opened) (*total, error) {
		t := &total{stream: NewEventStream("Total", ev.ID), sum: ev.Start}
		return t, t.stream.Append(ctx, ev)
	})
	OnEvent(c, func(ctx context.Context, t *total, ev added) (*total, error) {
		t.sum += ev.N
		return t, t.stream.Append(ctx, ev)
	})
	return c
}

// memPersistor is a minimal ordered persistor for in-package tests.
type memPersistor struct {
	mu      sync.Mutex
	records []EventRecord
}

func (m *memPersistor) Persist(_ context.Context, record EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.StreamName == record.StreamName && r.StreamID == record.StreamID && r.Revision == record.Revision {
			return &ConcurrencyConflictError{StreamName: r.StreamName, StreamID: r.StreamID, Revision: r.Revision}
		}
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memPersistor) GetEvents(_ context.Context, streamName, streamID string) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventRecord
	for _, r := range m.records {
		if r.StreamName == streamName && r.StreamID == streamID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestFactory(opts ...SessionFactoryOption) (*SessionFactory, *memPersistor) {
	registry := NewSerializerRegistry()
	registry.MustRegister("Total", newTotalCodec())
	p := &memPersistor{}
	return NewSessionFactory(registry, p, opts...), p
}

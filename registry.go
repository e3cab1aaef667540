package eventpulse

import (
	"fmt"
	"sort"
	"sync"
)

// SerializerRegistry maps stream names to their StreamSerializer.
// It is safe for concurrent use.
type SerializerRegistry struct {
	mu          sync.RWMutex
	serializers map[string]StreamSerializer
}

// NewSerializerRegistry creates an empty registry.
func NewSerializerRegistry() *SerializerRegistry {
	return &SerializerRegistry{
		serializers: make(map[string]StreamSerializer),
	}
}

// Register binds serializer to streamName. Each stream name can be bound once.
//
// Returns:
//   - ErrSerializerAlreadyRegistered if the name is taken.
//   - an error if serializer is nil or the name is empty.
func (r *SerializerRegistry) Register(streamName string, serializer StreamSerializer) error {
	if streamName == "" {
		return fmt.Errorf("register serializer: empty stream name")
	}
	if serializer == nil {
		return fmt.Errorf("register serializer for stream %q: nil serializer", streamName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.serializers[streamName]; exists {
		return fmt.Errorf("register serializer for stream %q: %w", streamName, ErrSerializerAlreadyRegistered)
	}
	r.serializers[streamName] = serializer
	return nil
}

// MustRegister is like Register but panics on error. Use it while wiring the
// application at startup.
func (r *SerializerRegistry) MustRegister(streamName string, serializer StreamSerializer) {
	if err := r.Register(streamName, serializer); err != nil {
		panic(err)
	}
}

// Resolve returns the serializer bound to streamName.
func (r *SerializerRegistry) Resolve(streamName string) (StreamSerializer, error) {
	r.mu.RLock()
	serializer, ok := r.serializers[streamName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("resolve serializer for stream %q: %w", streamName, ErrSerializerNotRegistered)
	}
	return serializer, nil
}

// Names returns the registered stream names in sorted order.
func (r *SerializerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.serializers))
	for name := range r.serializers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package booking

import (
	"reflect"
	"sync"
)

// Generator hands out sequential ids, one sequence per type.
type Generator struct {
	mu        sync.Mutex
	offset    int64
	sequences map[reflect.Type]int64
}

// NewGenerator returns a generator whose sequences start after offset.
func NewGenerator(offset int64) *Generator {
	return &Generator{
		offset:    offset,
		sequences: make(map[reflect.Type]int64),
	}
}

// Next returns the next id of the sequence for T.
func Next[T any](g *Generator) int64 {
	t := reflect.TypeOf((*T)(nil)).Elem()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.sequences[t]++
	return g.offset + g.sequences[t]
}

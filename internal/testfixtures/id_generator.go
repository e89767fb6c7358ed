package testfixtures

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out identifiers to services under test. Sequential
// generators yield "<prefix>-N"; random ones yield UUIDs like production.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
	random  bool
}

// NewIDGenerator returns a sequential generator. An empty prefix uses "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// NewUUIDGenerator returns a generator backed by uuid.NewString.
func NewUUIDGenerator() *IDGenerator {
	return &IDGenerator{random: true}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	if g.random {
		return uuid.NewString()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// Package dedup records the primes a generator has already handed out, so
// that no two keys ever share a factor.
package dedup

import (
	"context"
	"sync"
)

// Set is a grow-only set of canonical decimal strings.
type Set interface {
	// Contains reports whether value has been added.
	Contains(ctx context.Context, value string) (bool, error)
	// Add records value and reports whether it was newly added. Two
	// concurrent Adds of the same value return true for exactly one caller.
	Add(ctx context.Context, value string) (bool, error)
}

// Memory is a Set held in process memory for the lifetime of its owner.
type Memory struct {
	mu     sync.Mutex
	values map[string]struct{}
}

var _ Set = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]struct{})}
}

func (m *Memory) Contains(_ context.Context, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[value]
	return ok, nil
}

func (m *Memory) Add(_ context.Context, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[value]; ok {
		return false, nil
	}
	m.values[value] = struct{}{}
	return true, nil
}

// Len returns the number of recorded values.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

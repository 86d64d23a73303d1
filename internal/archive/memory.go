package archive

import (
	"context"
	"sync"
)

// MemoryArchive keeps page bodies in memory, for tests and local runs.
type MemoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryArchive constructs an empty MemoryArchive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{objects: map[string][]byte{}}
}

// Put stores one page body under key.
func (a *MemoryArchive) Put(_ context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = append([]byte(nil), body...)
	return nil
}

// Get returns a stored body, or false when the key is absent.
func (a *MemoryArchive) Get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.objects[key]
	return body, ok
}

// Len returns how many objects are stored.
func (a *MemoryArchive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}

package notify

import (
	"context"
	"fmt"
	"sync"
)

// MemoryMessage is one message captured by the in-memory transport.
type MemoryMessage struct {
	Data       []byte
	Attributes map[string]string
}

// MemoryTransport records published messages in memory. It exists for
// tests and local runs without a Pub/Sub backend.
type MemoryTransport struct {
	mu       sync.Mutex
	messages []MemoryMessage
	failOn   map[int]bool
	seq      int
}

// NewMemoryTransport constructs an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{failOn: map[int]bool{}}
}

// FailOn makes the n-th Publish call (zero-based) return an error.
func (t *MemoryTransport) FailOn(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failOn[n] = true
}

// Publish records the message and returns a synthetic id.
func (t *MemoryTransport) Publish(_ context.Context, data []byte, attributes map[string]string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.seq
	t.seq++
	if t.failOn[seq] {
		return "", fmt.Errorf("transport unavailable")
	}
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	t.messages = append(t.messages, MemoryMessage{
		Data:       append([]byte(nil), data...),
		Attributes: attrs,
	})
	return fmt.Sprintf("mem-%d", seq), nil
}

// Messages returns a copy of everything published so far.
func (t *MemoryTransport) Messages() []MemoryMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MemoryMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

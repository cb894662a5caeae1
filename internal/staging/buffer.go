// Package staging holds accepted captures in memory while their parent record
// does not exist yet. The buffer is purely client-side state: no network, no
// persistence, bounded by the lifetime of the parent-creation flow.
package staging

import (
	"fmt"
	"sync"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

// Buffer is an insertion-ordered list of not-yet-uploaded captures. Its order
// is the order a later flush will upload in. Removal revokes the capture's
// preview reference; stale references are never left behind.
type Buffer struct {
	previews *PreviewStore

	mu    sync.Mutex
	items []models.StagedCapture
}

func NewBuffer(previews *PreviewStore) *Buffer {
	return &Buffer{previews: previews}
}

// Add appends a capture and returns its index.
func (b *Buffer) Add(c models.StagedCapture) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, c)
	return len(b.items) - 1
}

// RemoveAt discards the capture at index i and revokes its preview reference.
func (b *Buffer) RemoveAt(i int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.items) {
		return fmt.Errorf("staging: index %d out of range (len %d)", i, len(b.items))
	}
	b.previews.Revoke(b.items[i].PreviewRef)
	b.items = append(b.items[:i], b.items[i+1:]...)
	return nil
}

// List returns the staged captures in insertion order.
func (b *Buffer) List() []models.StagedCapture {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.StagedCapture, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear discards every staged capture, revoking all preview references. Used
// when the parent-creation flow is abandoned.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.items {
		b.previews.Revoke(c.PreviewRef)
	}
	b.items = nil
}

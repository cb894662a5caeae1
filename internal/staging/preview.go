package staging

import (
	"sync"

	"github.com/google/uuid"
)

// PreviewStore hands out local references to in-memory image bytes so the UI
// can display a staged capture without re-reading it. A reference is a scoped
// resource: whoever removes the capture must revoke it.
type PreviewStore struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func NewPreviewStore() *PreviewStore {
	return &PreviewStore{data: make(map[uuid.UUID][]byte)}
}

// Allocate registers the bytes and returns a new reference to them.
func (p *PreviewStore) Allocate(img []byte) uuid.UUID {
	ref := uuid.New()
	p.mu.Lock()
	p.data[ref] = img
	p.mu.Unlock()
	return ref
}

// Resolve returns the bytes behind a live reference.
func (p *PreviewStore) Resolve(ref uuid.UUID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	img, ok := p.data[ref]
	return img, ok
}

// Revoke releases a reference. Revoking an already-revoked or unknown
// reference is a no-op.
func (p *PreviewStore) Revoke(ref uuid.UUID) {
	p.mu.Lock()
	delete(p.data, ref)
	p.mu.Unlock()
}

// Live reports how many references are currently allocated.
func (p *PreviewStore) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

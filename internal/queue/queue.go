package queue

import (
	"sort"
	"sync"

	"github.com/italolelis/modmirror/internal/content"
)

// Manager holds the pending transfers keyed by destination path.
// At most one reference per destination is pending at any time.
type Manager struct {
	mu      sync.Mutex
	pending map[string]content.Reference
}

func NewManager() *Manager {
	return &Manager{pending: make(map[string]content.Reference)}
}

// Add inserts ref or replaces the pending entry for the same destination.
func (m *Manager) Add(ref content.Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[ref.Destination] = ref
}

// Remove drops the entry for ref.Destination. Missing entries are ignored.
func (m *Manager) Remove(ref content.Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, ref.Destination)
}

// Take removes and returns the entry for destination in one step.
func (m *Manager) Take(destination string) (content.Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.pending[destination]
	if ok {
		delete(m.pending, destination)
	}

	return ref, ok
}

// RemoveIfSame drops the entry only while it still holds ref (same identity).
// It reports whether an entry was removed.
func (m *Manager) RemoveIfSame(ref content.Reference) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.pending[ref.Destination]
	if !ok || cur.ID != ref.ID {
		return false
	}

	delete(m.pending, ref.Destination)

	return true
}

func (m *Manager) Contains(destination string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pending[destination]

	return ok
}

func (m *Manager) Lookup(destination string) (content.Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.pending[destination]

	return ref, ok
}

// ContainsID reports whether any pending reference carries the identity id.
func (m *Manager) ContainsID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ref := range m.pending {
		if ref.ID == id {
			return true
		}
	}

	return false
}

// Cancel flags the pending transfer for destination. It reports whether one was found.
func (m *Manager) Cancel(destination string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.pending[destination]
	if ok {
		ref.Cancel()
	}

	return ok
}

// List returns a snapshot of the pending references ordered by destination.
func (m *Manager) List() []content.Reference {
	m.mu.Lock()
	refs := make([]content.Reference, 0, len(m.pending))

	for _, ref := range m.pending {
		refs = append(refs, ref)
	}
	m.mu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Destination < refs[j].Destination })

	return refs
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.pending)
}

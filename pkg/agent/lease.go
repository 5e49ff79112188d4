package agent

import (
	"errors"
	"sync"
)

// ErrRunActive means a run already holds the conversation's lease. Callers
// must guarantee at most one active run per conversation; the lease makes
// that contract explicit instead of corrupting state under interleaving.
var ErrRunActive = errors.New("a run is already active for this conversation")

// leaseSet is an exclusive per-conversation lease, acquired at run start and
// released at run end.
type leaseSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLeaseSet() *leaseSet {
	return &leaseSet{held: make(map[string]struct{})}
}

// acquire takes the lease for a conversation or fails with ErrRunActive
func (l *leaseSet) acquire(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[conversationID]; ok {
		return ErrRunActive
	}
	l.held[conversationID] = struct{}{}
	return nil
}

// release frees the lease
func (l *leaseSet) release(conversationID string) {
	l.mu.Lock()
	delete(l.held, conversationID)
	l.mu.Unlock()
}

// holds reports whether the conversation's lease is taken
func (l *leaseSet) holds(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[conversationID]
	return ok
}

// count reports how many leases are held
func (l *leaseSet) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

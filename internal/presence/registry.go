// Package presence tracks which users are currently connected to this
// process. The registry is deliberately process-local: it is mutated by the
// presence consumer and read by the delivery consumer, and multi-instance
// deployments get durable state from the device session store instead.
package presence

import "sync"

// Registry is a membership set of online user ids.
type Registry struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{online: make(map[string]struct{})}
}

func (r *Registry) SetOnline(userID string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	r.online[userID] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) SetOffline(userID string) {
	r.mu.Lock()
	delete(r.online, userID)
	r.mu.Unlock()
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.online[userID]
	r.mu.RUnlock()
	return ok
}

// Count returns how many users are online in this process.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

// Shutdown clears the set. Connected users will look offline to the
// delivery consumer from here on, which is correct during teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.online = make(map[string]struct{})
	r.mu.Unlock()
}

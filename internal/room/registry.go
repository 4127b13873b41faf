package room

import (
	"sort"
	"sync"
)

// Tracks which live connections belong to which room. Empty member sets
// are dropped so the registry only holds rooms somebody is in.
type Registry struct {
	members map[string]map[string]struct{}
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Join(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.members[roomID] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[roomID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, roomID)
	}
}

// Count is 0 for rooms nobody has joined
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[roomID])
}

// Members returns the connection ids in a room, sorted for stable fan-out
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.members[roomID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Occupied returns member counts for every room with at least one member
func (r *Registry) Occupied() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.members))
	for id, set := range r.members {
		counts[id] = len(set)
	}
	return counts
}

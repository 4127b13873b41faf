package room

import (
	"sort"
	"sync"
	"time"
)

// Summary of one room for the HTTP surface
type Info struct {
	ID           string    `json:"id"`
	Members      int       `json:"members"`
	Operations   int       `json:"operations"`
	RedoDepth    int       `json:"redo_depth"`
	LastActivity time.Time `json:"last_activity"`
}

// Owns every room's history and the membership registry. A room's Log is
// created on first reference and kept for the life of the process unless
// explicitly evicted.
type Store struct {
	logs    map[string]*Log
	members *Registry
	mu      sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		logs:    make(map[string]*Log),
		members: NewRegistry(),
	}
}

func (s *Store) Members() *Registry {
	return s.members
}

// Returns the room's Log, creating it if needed
func (s *Store) Log(roomID string) *Log {
	s.mu.RLock()
	l, ok := s.logs[roomID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[roomID]; ok {
		return l
	}
	l = NewLog()
	s.logs[roomID] = l
	return l
}

// Returns the room's Log without creating one
func (s *Store) Lookup(roomID string) (*Log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[roomID]
	return l, ok
}

func (s *Store) Info(roomID string) (Info, bool) {
	l, ok := s.Lookup(roomID)
	if !ok {
		return Info{}, false
	}
	return s.info(roomID, l), true
}

// Rooms lists every retained room, sorted by id
func (s *Store) Rooms() []Info {
	s.mu.RLock()
	ids := make([]string, 0, len(s.logs))
	logs := make(map[string]*Log, len(s.logs))
	for id, l := range s.logs {
		ids = append(ids, id)
		logs[id] = l
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, s.info(id, logs[id]))
	}
	return infos
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// EvictIdle drops the history of rooms that have no members and have seen
// no activity since before now-ttl. Returns the evicted ids.
func (s *Store) EvictIdle(ttl time.Duration, now time.Time) []string {
	cutoff := now.Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for id, l := range s.logs {
		if s.members.Count(id) > 0 {
			continue
		}
		if l.LastActivity().After(cutoff) {
			continue
		}
		delete(s.logs, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

func (s *Store) info(id string, l *Log) Info {
	return Info{
		ID:           id,
		Members:      s.members.Count(id),
		Operations:   l.Len(),
		RedoDepth:    l.RedoDepth(),
		LastActivity: l.LastActivity(),
	}
}

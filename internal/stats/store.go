package stats

import (
	"sync"
	"time"

	"examguard/internal/model"
)

// Store keeps the latest behavior stats per session and surface.
type Store struct {
	mu        sync.RWMutex
	bySession map[string]map[string]model.BehaviorStats
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySession: make(map[string]map[string]model.BehaviorStats),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(sessionUUID string, stats []model.BehaviorStats) {
	if sessionUUID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bySession[sessionUUID]
	if !ok {
		m = make(map[string]model.BehaviorStats)
		s.bySession[sessionUUID] = m
	}
	for _, bs := range stats {
		m[bs.Surface] = bs
	}
	s.updatedAt[sessionUUID] = time.Now().UTC()
	if len(s.bySession) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(sessionUUID string) ([]model.BehaviorStats, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.bySession[sessionUUID]
	if !ok {
		return nil, time.Time{}, false
	}
	out := make([]model.BehaviorStats, 0, len(m))
	for _, bs := range m {
		out = append(out, bs)
	}
	return out, s.updatedAt[sessionUUID], true
}

func (s *Store) GetAll() map[string][]model.BehaviorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.BehaviorStats, len(s.bySession))
	for sessionUUID, m := range s.bySession {
		list := make([]model.BehaviorStats, 0, len(m))
		for _, bs := range m {
			list = append(list, bs)
		}
		out[sessionUUID] = list
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestSession string
	var oldest time.Time
	for session, ts := range s.updatedAt {
		if oldestSession == "" || ts.Before(oldest) {
			oldestSession = session
			oldest = ts
		}
	}
	if oldestSession != "" {
		delete(s.bySession, oldestSession)
		delete(s.updatedAt, oldestSession)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession = make(map[string]map[string]model.BehaviorStats)
	s.updatedAt = make(map[string]time.Time)
}

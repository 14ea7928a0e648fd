package events

import (
	"sync"
	"time"

	"examguard/internal/model"
)

// Store is a bounded in-memory feed of recently emitted proctor events.
// The oldest entries roll off when the buffer is full.
type Store struct {
	mu    sync.RWMutex
	buf   []model.ProctorEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ev model.ProctorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

func (s *Store) List(limit int) []model.ProctorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.ProctorEvent, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.ProctorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ProctorEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) BySession(sessionUUID string) []model.ProctorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ProctorEvent, 0)
	for _, ev := range s.buf {
		if ev.SessionUUID == sessionUUID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

package session

import "sync"

// Track is one live capture stream (camera, microphone, screen share)
// leased to a session. Stop is idempotent; ReadyState reports "live" until
// the track is stopped, then "ended".
type Track interface {
	Kind() string
	Stop()
	ReadyState() string
}

// Leases holds every track opened for a session so teardown can release
// them all. Every session exit path goes through StopAll.
type Leases struct {
	mu     sync.Mutex
	tracks []Track
}

func (l *Leases) Add(t Track) {
	if t == nil {
		return
	}
	l.mu.Lock()
	l.tracks = append(l.tracks, t)
	l.mu.Unlock()
}

func (l *Leases) StopAll() {
	l.mu.Lock()
	tracks := l.tracks
	l.tracks = nil
	l.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}

func (l *Leases) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.tracks {
		if t.ReadyState() == "live" {
			n++
		}
	}
	return n
}

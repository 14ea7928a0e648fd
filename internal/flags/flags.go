package flags

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"examguard/internal/model"
)

// AutoThreshold is the number of flagged events of one type within a
// session that promotes them to an integrity flag.
const AutoThreshold = 3

const maxConfidence = 0.95

var ErrNotFound = errors.New("flag not found")

// Store holds integrity flags and the aggregation counters that create
// them. Flags are append-only: only the reviewer decision ever changes,
// and nothing is deleted.
type Store struct {
	mu        sync.RWMutex
	bySession map[string][]*model.IntegrityFlag
	byID      map[string]*model.IntegrityFlag
	counters  map[string]map[model.EventType][]string
}

func NewStore() *Store {
	return &Store{
		bySession: make(map[string][]*model.IntegrityFlag),
		byID:      make(map[string]*model.IntegrityFlag),
		counters:  make(map[string]map[model.EventType][]string),
	}
}

// Observe feeds one emitted event through the aggregation rule. Returns the
// flag created by this event, if any. Unflagged events never contribute.
func (s *Store) Observe(ev model.ProctorEvent) *model.IntegrityFlag {
	if !ev.Flagged {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, ok := s.counters[ev.SessionUUID]
	if !ok {
		counts = make(map[model.EventType][]string)
		s.counters[ev.SessionUUID] = counts
	}
	evidence := append(counts[ev.Type], fmt.Sprintf("%s@%s", ev.Type, ev.Timestamp.UTC().Format(time.RFC3339Nano)))
	counts[ev.Type] = evidence
	if len(evidence) != AutoThreshold {
		// Below threshold, or the flag for this type already exists.
		return nil
	}

	confidence := 0.5 + 0.1*float64(len(evidence))
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	flag := &model.IntegrityFlag{
		ID:          uuid.NewString(),
		SessionUUID: ev.SessionUUID,
		FlagType:    ev.Type,
		Confidence:  confidence,
		Evidence:    append([]string(nil), evidence...),
		Decision:    model.DecisionPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.add(flag)
	return flag
}

// AddManual records a reviewer-created flag.
func (s *Store) AddManual(sessionUUID string, flagType model.EventType, confidence float64, evidence []string) *model.IntegrityFlag {
	flag := &model.IntegrityFlag{
		ID:          uuid.NewString(),
		SessionUUID: sessionUUID,
		FlagType:    flagType,
		Confidence:  confidence,
		Evidence:    append([]string(nil), evidence...),
		Decision:    model.DecisionPending,
		CreatedAt:   time.Now().UTC(),
		Manual:      true,
	}
	s.mu.Lock()
	s.add(flag)
	s.mu.Unlock()
	return flag
}

func (s *Store) add(flag *model.IntegrityFlag) {
	s.bySession[flag.SessionUUID] = append(s.bySession[flag.SessionUUID], flag)
	s.byID[flag.ID] = flag
}

// Decide mutates the reviewer decision, the only mutable field of a flag.
func (s *Store) Decide(id string, decision model.ReviewerDecision) error {
	switch decision {
	case model.DecisionPending, model.DecisionConfirmed, model.DecisionDismissed, model.DecisionEscalated:
	default:
		return fmt.Errorf("invalid reviewer decision %q", decision)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	flag.Decision = decision
	return nil
}

func (s *Store) BySession(sessionUUID string) []model.IntegrityFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.bySession[sessionUUID]
	out := make([]model.IntegrityFlag, 0, len(list))
	for _, f := range list {
		out = append(out, *f)
	}
	return out
}

func (s *Store) Get(id string) (model.IntegrityFlag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.byID[id]; ok {
		return *f, true
	}
	return model.IntegrityFlag{}, false
}

package events

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// Selection is an owner's most recent question choice.
type Selection struct {
	QuestionID string
	At         time.Time
}

// SelectionStore remembers the last question each owner selected. It is fed
// by question.selected events.
type SelectionStore struct {
	mu   sync.RWMutex
	last map[string]Selection
}

// NewSelectionStore creates a store subscribed to bus.
func NewSelectionStore(bus *Bus) *SelectionStore {
	s := &SelectionStore{last: make(map[string]Selection)}
	if bus != nil {
		bus.Subscribe(domain.EventQuestionSelected, s.onSelected)
	}
	return s
}

func (s *SelectionStore) onSelected(_ context.Context, ev Event) {
	p, ok := ev.Payload.(QuestionSelected)
	if !ok || ev.OwnerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.last[ev.OwnerID]; ok && cur.At.After(ev.At) {
		return
	}
	s.last[ev.OwnerID] = Selection{QuestionID: p.QuestionID, At: ev.At}
}

// Last returns the owner's last selected question id.
func (s *SelectionStore) Last(ownerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.last[ownerID]
	return sel.QuestionID, ok
}

// Clear forgets the owner's selection.
func (s *SelectionStore) Clear(ownerID string) {
	s.mu.Lock()
	delete(s.last, ownerID)
	s.mu.Unlock()
}

package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps transcripts in process for local use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) SaveLine(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.UserID] = append(s.records[record.UserID], record)
	return nil
}

// Recent returns the newest lines for a user and agent, oldest first. An
// empty agentID matches every agent.
func (s *InMemoryStore) Recent(_ context.Context, userID, agentID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Record
	for _, r := range s.records[userID] {
		if agentID == "" || r.AgentID == agentID {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	out := make([]Record, limit)
	copy(out, matched[len(matched)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

package issue

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store, used by tests and as the
// backing store when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*DocIssue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*DocIssue)}
}

func (s *MemoryStore) GetIssue(ctx context.Context, id string) (*DocIssue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return issue.Clone(), true, nil
}

func (s *MemoryStore) PutIssue(ctx context.Context, issue *DocIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[issue.ID] = issue.Clone()
	return nil
}

// List returns every stored issue, for test assertions.
func (s *MemoryStore) List() []*DocIssue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*DocIssue, 0, len(s.items))
	for _, issue := range s.items {
		out = append(out, issue.Clone())
	}
	return out
}

package store

import (
	"context"
	"sync"

	"github.com/dragon-bot/dragon/pkg/api"
)

// MemoryStore keeps encoded documents in a map. It backs dry runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, tenant api.Snowflake, module string, v any) (bool, error) {
	s.mu.RLock()
	b, ok := s.docs[string(key(tenant, module))]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(tenant, module, b, v)
}

func (s *MemoryStore) Save(ctx context.Context, tenant api.Snowflake, module string, v any) error {
	b, err := encode(tenant, module, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[string(key(tenant, module))] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

package cache

import (
	"context"
	"sync"

	"github.com/ruteri/vault-session-broker/interfaces"
)

// Store is the process-local cache backend. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	banks map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{banks: make(map[string]map[string][]byte)}
}

func (s *Store) Fetch(_ context.Context, bank interfaces.CacheBank, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.banks[bank.String()][key]
	if !ok {
		return nil, interfaces.ErrCacheMiss
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Store(_ context.Context, bank interfaces.CacheBank, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := bank.String()
	if s.banks[name] == nil {
		s.banks[name] = make(map[string][]byte)
	}
	s.banks[name][key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Flush(_ context.Context, bank interfaces.CacheBank, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := bank.String()
	if key != "" {
		delete(s.banks[name], key)
		return nil
	}
	for b := range s.banks {
		if interfaces.IsSubBank(name, b) {
			delete(s.banks, b)
		}
	}
	return nil
}

func (s *Store) Name() string {
	return "session"
}

package persistence

import "sync"

type MemoryStore struct {
	slots map[string]string
	sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]string)}
}

func (s *MemoryStore) Get(slot string) (string, error) {
	s.RLock()
	defer s.RUnlock()
	v, ok := s.slots[slot]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(slot, value string) error {
	s.Lock()
	defer s.Unlock()
	s.slots[slot] = value
	return nil
}

func (s *MemoryStore) Delete(slot string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.slots, slot)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

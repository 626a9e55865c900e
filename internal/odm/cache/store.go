package cache

import (
	"fmt"
	"sync"
	"time"
)

// entry is one cached value plus the artifact hashes it was computed under.
type entry struct {
	value    any
	watched  map[string]string // path -> content hash
	cachedAt time.Time
}

// Store is a keyed cache whose entries are invalidated by watched source
// artifacts changing on disk.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	hasher  *FileHasher
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		hasher:  NewFileHasher(),
	}
}

// Cached returns the value cached under key if every watched artifact is
// unchanged since caching; otherwise it invokes produce, stores the result
// with fresh hashes, and returns it.
func (s *Store) Cached(key string, watched []string, produce func() (any, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		fresh, err := s.unchanged(e)
		if err != nil {
			return nil, fmt.Errorf("cache check for %s: %w", key, err)
		}
		if fresh {
			return e.value, nil
		}
	}

	value, err := produce()
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(watched))
	for _, path := range watched {
		h, err := s.hasher.HashFile(path)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", path, err)
		}
		hashes[path] = h
	}
	s.entries[key] = &entry{value: value, watched: hashes, cachedAt: time.Now()}
	return value, nil
}

// unchanged reports whether every watched artifact still matches its
// recorded hash.
func (s *Store) unchanged(e *entry) (bool, error) {
	for path, recorded := range e.watched {
		current, err := s.hasher.HashFile(path)
		if err != nil {
			return false, err
		}
		if current != recorded {
			return false, nil
		}
	}
	return true, nil
}

// Invalidate removes an entry regardless of artifact state.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

package validity

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStoreSize bounds the number of cached feeds kept in memory.
const DefaultStoreSize = 1024

// Entry is a completed token and the artifact it vouches for.
type Entry struct {
	Token    *Token
	Artifact []byte
}

// Store holds the latest entry per key. Updates to one key are serialized;
// different keys proceed independently.
type Store struct {
	entries *lru.Cache[Key, *Entry]

	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a store bounded to size entries.
func NewStore(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultStoreSize
	}
	entries, err := lru.New[Key, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create token store: %w", err)
	}
	return &Store{entries: entries, locks: make(map[Key]*keyLock)}, nil
}

// Update runs fn with the current entry for key (nil if none) while holding
// the key's lock. A non-nil returned entry replaces the current one. Tokens
// reached through current may be mutated by fn, e.g. by Compare.
func (s *Store) Update(key Key, fn func(current *Entry) (*Entry, error)) error {
	unlock := s.lock(key)
	defer unlock()

	current, _ := s.entries.Get(key)
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		s.entries.Add(key, next)
	}
	return nil
}

// Purge drops every entry.
func (s *Store) Purge() {
	s.entries.Purge()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) lock(key Key) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

package contacts

import (
	"sync"
	"time"

	"github.com/Napageneral/msgbridge/imessage"
)

// DefaultCacheTTL bounds how long a contact snapshot is served before
// the AddressBook is re-read.
const DefaultCacheTTL = 5 * time.Minute

// Store serves contacts from an in-process TTL cache over the
// AddressBook files. Refetching is idempotent, so concurrent callers
// racing to refresh is harmless; a reader never observes a torn
// snapshot.
type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	cached  []Contact
	fetched time.Time
}

// NewStore creates a Store over the AddressBook directory. A zero ttl
// uses DefaultCacheTTL; a nil clock uses time.Now.
func NewStore(dir string, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{dir: dir, ttl: ttl, now: now}
}

// All returns the contact set, refreshing from the store when the
// cache is absent or older than the TTL.
func (s *Store) All() ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetched) <= s.ttl {
		return s.cached, nil
	}

	contacts, err := loadAll(s.dir)
	if err != nil {
		return nil, err
	}
	s.cached = contacts
	s.fetched = s.now()
	return contacts, nil
}

// Invalidate drops the cached snapshot so the next call refetches.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// FindByIdentifier does an exact normalized-identifier lookup,
// bypassing fuzzy scoring. Returns nil when no contact carries the
// identifier.
func (s *Store) FindByIdentifier(raw string) (*Contact, error) {
	norm, _ := imessage.NormalizeIdentifier(raw)
	if norm == "" {
		return nil, nil
	}

	contacts, err := s.All()
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if hasIdentifier(contacts[i], norm) {
			c := contacts[i]
			return &c, nil
		}
	}
	return nil, nil
}

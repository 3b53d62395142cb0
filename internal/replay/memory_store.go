package replay

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// sweepInterval is how often expired entries are purged from memory.
const sweepInterval = 60 * time.Second

// MemoryStore is the process-local replay cache backend. Entries are lost
// on restart and invisible to other processes, so it cannot enforce the
// replay invariant across a fleet; use the Redis backend for that.
type MemoryStore struct {
	cache *gocache.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryStore creates an in-memory replay cache. A background janitor
// sweeps expired entries every minute to bound memory.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{cache: gocache.New(ttl, sweepInterval)}
}

func (s *MemoryStore) Get(_ context.Context, signature string) (*Entry, error) {
	v, ok := s.cache.Get(keyPrefix + signature)
	if !ok {
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	entry, ok := v.(*Entry)
	if !ok {
		s.misses.Add(1)
		return nil, ErrNotFound
	}
	s.hits.Add(1)
	return entry, nil
}

func (s *MemoryStore) Set(_ context.Context, signature string, entry *Entry) error {
	s.cache.Set(keyPrefix+signature, entry, gocache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, signature string) (bool, error) {
	_, ok := s.cache.Get(keyPrefix + signature)
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, signature string) error {
	s.cache.Delete(keyPrefix + signature)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	return Stats{
		Count:  int64(s.cache.ItemCount()),
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}, nil
}

var _ Store = (*MemoryStore)(nil)

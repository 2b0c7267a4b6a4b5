package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store persists sessions between requests.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Claimer is implemented by stores shared between processes. Claim marks a
// submission of session id as in flight and reports false when another
// process holds the claim; Release drops it. The claim expires after ttl in
// case its holder dies.
type Claimer interface {
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// StoreOption configures a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	prefix string
	ttl    time.Duration
}

// WithTTL sets how long a session lives after its last write. Zero means no
// expiration.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions. Only RedisStore uses it.
func WithPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.prefix = prefix
	}
}

// MemoryStore implements Store in memory. Safe for concurrent use.
// With a TTL, expired sessions read as not found and are swept on a later
// Put, so abandoned dialogs do not pile up.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string]memoryEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type memoryEntry struct {
	raw     []byte
	expires time.Time // zero when the store has no TTL
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	var cfg storeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{
		data: make(map[string]memoryEntry),
		ttl:  cfg.ttl,
		now:  time.Now,
	}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.data[id]
	m.mu.RUnlock()
	if !ok || e.expired(m.now()) {
		return nil, ErrNotFound
	}
	return decode(e.raw)
}

// Put stores a copy of s and restarts its TTL. Sessions are kept encoded so
// callers never share slices or maps with the store.
func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	now := m.now()
	e := memoryEntry{raw: raw}
	if m.ttl > 0 {
		e.expires = now.Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = e
	m.sweepLocked(now)
	return nil
}

// sweepLocked drops expired sessions at most once per TTL period.
func (m *MemoryStore) sweepLocked(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	m.lastSweep = now
	for id, e := range m.data {
		if e.expired(now) {
			delete(m.data, id)
		}
	}
}

// Delete removes the session. Unknown IDs are ignored.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func decode(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

package idempotency

import (
	"context"
	"sync"
	"time"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Record is the stored outcome of a processed update.
type Record struct {
	Status   string
	Response []byte
}

// Store persists idempotency records and short-lived execution locks.
type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
}

type memoryEntry struct {
	record    *Record
	expiresAt time.Time
}

// MemoryStore is a process-local Store used when Redis is disabled.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]time.Time
	records map[string]memoryEntry
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]time.Time),
		records: make(map[string]memoryEntry),
	}
}

// Lock acquires the execution lock for key unless it is already held.
func (s *MemoryStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, held := s.locks[key]; held && time.Now().Before(deadline) {
		return false, nil
	}

	s.locks[key] = time.Now().Add(lockTTL)
	return true, nil
}

// Get returns the record for key, nil when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.records[key]
	if !ok {
		return nil, nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(s.records, key)
		return nil, nil
	}

	return entry.record, nil
}

// Set stores the record with a ttl. Expired records are swept lazily on Get
// and on every Set, so no background janitor is needed.
func (s *MemoryStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, entry := range s.records {
		if now.After(entry.expiresAt) {
			delete(s.records, k)
		}
	}

	s.records[key] = memoryEntry{record: record, expiresAt: now.Add(ttl)}
	return nil
}

// ReleaseLock drops the execution lock for key.
func (s *MemoryStore) ReleaseLock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, key)
	return nil
}

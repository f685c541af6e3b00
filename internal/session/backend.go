package session

import (
	"sync"
)

// Bucket names used by every backend.
const (
	BucketState  = "state"
	BucketMirror = "mirror"
	BucketMeta   = "meta"
)

// Batch is one bucket's worth of pending writes. Reset empties the bucket
// before Puts and Deletes are applied. A nil value in Puts is ignored.
type Batch struct {
	Reset   bool
	Puts    map[string][]byte
	Deletes []string
}

func (b Batch) empty() bool {
	return !b.Reset && len(b.Puts) == 0 && len(b.Deletes) == 0
}

// Backend is the durable key/value collaborator behind a Store.
type Backend interface {
	Load(bucket string) (map[string][]byte, error)
	// Apply writes every batch atomically.
	Apply(batches map[string]Batch) error
	Close() error
}

// MemoryBackend keeps buckets in process memory. Used by tests and by the
// --ephemeral flag of the CLI.
type MemoryBackend struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	applyErr error
	applied  int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: map[string]map[string][]byte{}}
}

// Load implements Backend.
func (m *MemoryBackend) Load(bucket string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for key, value := range m.buckets[bucket] {
		out[key] = append([]byte(nil), value...)
	}
	return out, nil
}

// Apply implements Backend.
func (m *MemoryBackend) Apply(batches map[string]Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	for name, batch := range batches {
		bucket := m.buckets[name]
		if bucket == nil || batch.Reset {
			bucket = map[string][]byte{}
			m.buckets[name] = bucket
		}
		for key, value := range batch.Puts {
			if value == nil {
				continue
			}
			bucket[key] = append([]byte(nil), value...)
		}
		for _, key := range batch.Deletes {
			delete(bucket, key)
		}
	}
	m.applied++
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

// Put seeds a raw value, bypassing the store.
func (m *MemoryBackend) Put(bucket, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string][]byte{}
	}
	m.buckets[bucket][key] = append([]byte(nil), value...)
}

// FailApply makes every following Apply return err (nil restores success).
func (m *MemoryBackend) FailApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

// Applied reports how many batches were written successfully.
func (m *MemoryBackend) Applied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

package store

import (
	"hash/fnv"
	"sync"
)

// Outcome reports what a Put did with the offered record
type Outcome int

const (
	// Stored means the record was created or replaced the previous one
	Stored Outcome = iota
	// Stale means an existing record with an equal or newer timestamp won
	Stale
)

// String returns a human-readable name for logging
func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Record is a timestamped value held by a shard
type Record struct {
	TS   uint64 // Writer-supplied logical timestamp
	Data []byte // Opaque value bytes
}

// StoreStats contains statistics aggregated across all shards
type StoreStats struct {
	Keys  int // Number of live records
	Bytes int // Total size of all values in bytes
}

// Shard holds one partition of the keyspace behind its own lock
// All methods are safe for concurrent use
type Shard struct {
	mu      sync.RWMutex      // Protects concurrent access
	records map[string]Record // Key-record storage
}

// NewShard creates an empty shard
func NewShard() *Shard {
	return &Shard{
		records: make(map[string]Record),
	}
}

// Put applies the last-write-wins rule for key: the offered record replaces
// the current one only if its timestamp is strictly newer. A Put that loses
// returns Stale and leaves the shard untouched; equal timestamps lose, so
// replaying the same write twice is idempotent.
func (s *Shard) Put(key string, ts uint64, data []byte) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.records[key]; exists && ts <= old.TS {
		return Stale
	}

	// Make a copy to prevent external modification
	stored := make([]byte, len(data))
	copy(stored, data)
	s.records[key] = Record{TS: ts, Data: stored}

	return Stored
}

// Get retrieves the current record for key
// The timestamp and value are read under one lock, so a caller never sees
// the timestamp of one write paired with the bytes of another
func (s *Shard) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[key]
	if !exists {
		return Record{}, false
	}

	// Return a copy to prevent external modification
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	return Record{TS: rec.TS, Data: data}, true
}

// Len returns the number of records in the shard
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// stats returns this shard's contribution to the store totals
func (s *Shard) stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalBytes := 0
	for _, rec := range s.records {
		totalBytes += len(rec.Data)
	}

	return StoreStats{
		Keys:  len(s.records),
		Bytes: totalBytes,
	}
}

// ShardedStore partitions the keyspace across a fixed set of shards so
// writes to different keys rarely contend on the same lock
type ShardedStore struct {
	shards []*Shard // Fixed at construction, read-only afterwards
}

// NewShardedStore creates a store with n shards
// A count below one is clamped to a single shard
func NewShardedStore(n int) *ShardedStore {
	if n < 1 {
		n = 1
	}

	shards := make([]*Shard, n)
	for i := range shards {
		shards[i] = NewShard()
	}
	return &ShardedStore{shards: shards}
}

// ShardFor determines which shard owns a given key
// Deterministic: the same key always maps to the same shard
func (s *ShardedStore) ShardFor(key string) int {
	// Use FNV-1a hash for fast, well-distributed placement
	h := fnv.New32a()
	h.Write([]byte(key))

	return int(h.Sum32() % uint32(len(s.shards)))
}

// Put routes the write to the owning shard and applies the timestamp rule
func (s *ShardedStore) Put(key string, ts uint64, data []byte) Outcome {
	return s.shards[s.ShardFor(key)].Put(key, ts, data)
}

// Get routes the read to the owning shard
func (s *ShardedStore) Get(key string) (Record, bool) {
	return s.shards[s.ShardFor(key)].Get(key)
}

// NumShards returns the shard count fixed at construction
func (s *ShardedStore) NumShards() int {
	return len(s.shards)
}

// Stats aggregates statistics across all shards
// Shards are sampled one at a time, so totals are approximate while
// writers are active
func (s *ShardedStore) Stats() StoreStats {
	var total StoreStats
	for _, shard := range s.shards {
		st := shard.stats()
		total.Keys += st.Keys
		total.Bytes += st.Bytes
	}
	return total
}

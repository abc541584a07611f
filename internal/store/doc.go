// Package store provides the in-memory sharded key-value state for kvz,
// implementing timestamp-based last-write-wins conflict resolution over a
// fixed set of independently locked shards.
//
// # Overview
//
// The store package is the data plane of kvz. It owns every record the
// server can answer for and enforces the single rule that makes concurrent
// writers safe: a write replaces the current record only when its
// logical timestamp is strictly newer. Everything above this package
// (workers, sockets, clients) is plumbing that moves frames to and from
// these maps.
//
// # Architecture
//
// The package follows a two-level design:
//
//	┌─────────────────────────────────────┐
//	│           Worker Pool               │
//	│      (internal/server workers)      │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│           ShardedStore              │
//	│     FNV-1a(key) mod shard count     │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┐
//	    ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌────────┐
//	│ Shard 0│  │ Shard 1│  │ Shard N│
//	│ RWMutex│  │ RWMutex│  │ RWMutex│
//	└────────┘  └────────┘  └────────┘
//
// # Core Types
//
// Record: A timestamped value
//   - TS - Writer-supplied logical timestamp
//   - Data - Opaque value bytes, copied on the way in and out
//
// Shard: One partition of the keyspace
//   - Put(key, ts, data) - Conditional write under the timestamp rule
//   - Get(key) - Atomic read of timestamp and value together
//   - Len() - Number of live records
//
// ShardedStore: The full keyspace
//   - ShardFor(key) - Deterministic key-to-shard placement
//   - Put/Get - Route to the owning shard
//   - Stats() - Aggregate key and byte counts
//
// # Conflict Resolution
//
// Writers attach a logical timestamp to every record. On Put the shard
// compares it against the stored record for the same key:
//
//   - No record present: the write is accepted (Stored)
//   - Offered ts strictly newer: the record is replaced (Stored)
//   - Offered ts equal or older: the write is rejected (Stale)
//
// Equal timestamps lose, which makes a replayed write idempotent and gives
// two writers that picked the same timestamp a deterministic outcome (first
// one in wins) instead of a flapping record. The comparison and the map
// update happen under one exclusive lock, so two racing writers can never
// both see "I won".
//
// Rejected writes are not errors. Callers get the Stale outcome and decide
// for themselves whether to retry with a newer timestamp or accept that a
// later write already landed.
//
// # Concurrency Model
//
// Each shard has its own sync.RWMutex:
//
// Locking Strategy:
//   - Get takes the shared lock, so readers of one shard run in parallel
//   - Put takes the exclusive lock for the compare-and-replace
//   - No locks held across shards; Stats samples them one at a time
//   - All returned data is copied to prevent races
//
// Consistency Guarantees:
//   - Per-key linearizability: Put and Get on one key serialize on one lock
//   - A Get never mixes the timestamp of one write with the bytes of another
//   - No guarantees across keys; Stats totals are approximate under load
//
// The shard count is fixed at construction and the shard slice is never
// mutated afterwards, so ShardFor needs no locking at all.
//
// # Performance Characteristics
//
// Operation costs:
//   - ShardFor: O(k) in key length, typically <100ns
//   - Get: O(1) map lookup plus a value copy
//   - Put: O(1) map store plus a value copy
//   - Stats: O(n) scan of all records
//
// Contention is governed by the shard count. With S shards and W busy
// workers the chance that two workers collide on one lock is roughly W/S,
// so the default of 64 shards keeps an 8-worker pool almost contention
// free. Raising the shard count is cheap (~100 bytes per empty shard).
//
// # Usage Example
//
//	// Creating a sharded store
//	st := store.NewShardedStore(64)
//
//	// Conditional writes
//	if st.Put("user:123", 100, []byte(`{"name":"Alice"}`)) == store.Stale {
//	    log.Printf("a newer record already exists")
//	}
//
//	// Reads see the winning record
//	rec, ok := st.Get("user:123")
//	if !ok {
//	    log.Println("user not found")
//	}
//	fmt.Printf("ts=%d size=%d\n", rec.TS, len(rec.Data))
//
// # Testing
//
// The package test suite covers:
//
// Unit Tests:
//   - Timestamp rule outcomes (newer, equal, older, first write)
//   - Copy-in/copy-out isolation of value buffers
//   - Placement determinism and shard-count clamping
//
// Concurrency Tests:
//   - Racing writers on one key converge on the highest timestamp
//   - Parallel readers during writes never see torn records
//
// Running tests:
//
//	go test ./internal/store/... -cover
//	go test -race ./internal/store/...
//
// # Limitations and Future Work
//
// Current limitations:
//   - No persistence; all records are lost on process exit
//   - No eviction or TTL; the keyspace only grows
//   - No cross-key operations or snapshots
//
// Planned improvements:
//   - Optional snapshot dump for warm restarts
//   - Per-shard occupancy metrics for placement tuning
//
// # See Also
//
// Related packages:
//   - internal/server: Worker pool that drives this store
//   - internal/protocol: Wire form of the timestamps compared here
package store

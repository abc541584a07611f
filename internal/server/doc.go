// Package server implements the kvz network server: a ZeroMQ ROUTER
// socket feeding a fixed pool of worker goroutines that execute requests
// against the sharded store and route replies back to the right client.
//
// # Overview
//
// The server exists to multiplex many concurrent clients onto one
// endpoint without giving up reply routing. A ROUTER socket tags every
// incoming message with the sending peer's identity; the server carries
// that identity (the "envelope") alongside the decoded request through
// the worker pool and attaches it again on the way out, so replies reach
// exactly the client that asked.
//
// # Architecture
//
// One receive loop, N workers, one send loop, all joined by bounded
// channels:
//
//	          ┌──────────────────────────────────────┐
//	clients ─▶│            ROUTER socket             │◀─ replies out
//	          └──────────────────────────────────────┘
//	               │ recvLoop              ▲ sendLoop
//	               ▼                       │
//	        requests chan            replies chan
//	               │                       ▲
//	     ┌─────────┼─────────┐             │
//	     ▼         ▼         ▼             │
//	  worker    worker    worker  ─────────┘
//	     │         │         │
//	     └────┬────┴────┬────┘
//	          ▼         ▼
//	      ShardedStore (internal/store)
//
// # Request Lifecycle
//
// 1. recvLoop reads a message and splits it at the first empty frame:
// everything through the delimiter is the envelope, the rest is the body.
//
// 2. The body is decoded into a protocol.Request. A decode failure does
// not short-circuit: the error rides inside the pendingRequest so the
// worker emits the ERROR reply through the normal path.
//
// 3. A worker executes the request against the store and queues the
// reply body together with the saved envelope.
//
// 4. sendLoop prepends the envelope and writes the message. The ROUTER
// socket consumes the identity frame to pick the destination connection.
//
// # Concurrency Model
//
// Channel Topology:
//   - requests and replies are buffered at 4x the worker count
//   - recvLoop is the only sender on requests
//   - workers are the only senders on replies
//   - sendLoop is the only goroutine that writes to the socket
//
// Synchronization:
//   - Request counters use atomic increments, snapshot via Counters
//   - All store access goes through internal/store's per-shard locks
//   - No mutex in this package; ownership is expressed by the channels
//
// Shutdown Sequence (Stop):
//  1. The internal context is canceled, which unblocks the socket
//  2. recvLoop returns and closes the requests channel
//  3. Workers finish what they already dequeued, then exit
//  4. A closer goroutine watches the worker group and closes replies
//  5. sendLoop drains remaining replies and returns
//  6. Stop waits for all of the above, then closes the socket
//
// Requests still queued when the context is canceled are dropped; their
// clients observe a closed connection, the same thing they would see if
// the process had died. Nothing blocks forever: every channel send in
// the pipeline also selects on the canceled context.
//
// # Backpressure
//
// The request channel is bounded. When all workers are busy and the
// queue is full, recvLoop blocks on the channel send and stops calling
// Recv. Unread messages accumulate in ZeroMQ's own buffers and
// eventually in the kernel's TCP window, which slows the clients down.
// The server's memory use stays proportional to the queue depth, not to
// the offered load.
//
// # Reply Ordering
//
// Workers complete requests in whatever order the store lets them, so
// replies leave in completion order. For REQ clients this is invisible:
// a REQ socket has at most one request outstanding, so there is never a
// second reply to misorder. The envelope mechanism guarantees delivery
// to the right client regardless.
//
// # Performance Characteristics
//
// Expected costs per request:
//   - Envelope split: O(f) over the frame count, no allocation
//   - Store operation: one shard lock plus a value copy
//   - Two channel handoffs between loops and workers
//
// Throughput scales with workers until the store's shard locks or the
// single socket loops saturate. The send loop is the usual ceiling on
// small requests; replies leave one message at a time.
//
// # Usage Example
//
//	srv := server.New(server.Config{
//	    Bind:    "tcp://*:5555",
//	    Workers: 8,
//	    Shards:  64,
//	})
//	if err := srv.Start(); err != nil {
//	    log.Fatalf("Failed to start server: %v", err)
//	}
//	defer srv.Stop()
//
//	log.Printf("listening on %s", srv.Endpoint())
//
// # Testing
//
// The package tests run at two levels:
//
// Channel Tests:
//   - Worker behavior driven directly through the request channel
//   - Envelope splitting over REQ, bare DEALER and edge-case frames
//
// Socket Tests:
//   - A server bound to an ephemeral port exercised by real REQ clients
//   - Counter and endpoint resolution checks across Start/Stop
//
// Running tests:
//
//	go test ./internal/server/... -cover
//	go test -race ./internal/server/...
//
// # Limitations and Future Work
//
// Current limitations:
//   - One socket, one process; there is no clustering or replication
//   - No per-client fairness; a chatty DEALER can fill the queue
//   - Counters reset only by restarting the process
//
// Planned improvements:
//   - Expose queue depth alongside Counters for load monitoring
//
// # See Also
//
// Related packages:
//   - internal/protocol: Frame layout and decode errors
//   - internal/store: Conflict resolution the workers execute
//   - internal/client: The matching REQ client
package server

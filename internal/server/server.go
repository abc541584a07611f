package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"

	"github.com/jensanjo/kvz/internal/protocol"
	"github.com/jensanjo/kvz/internal/store"
)

// Defaults applied to zero-valued Config fields
const (
	DefaultBind    = "tcp://*:5555"
	DefaultWorkers = 8
	DefaultShards  = 64
)

// Config holds the server tunables
type Config struct {
	Bind    string // ZeroMQ endpoint to bind, e.g. tcp://*:5555
	Workers int    // Number of worker goroutines
	Shards  int    // Number of store shards
}

// withDefaults fills in unset fields
func (c Config) withDefaults() Config {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.Shards < 1 {
		c.Shards = DefaultShards
	}
	return c
}

// OperationStats tracks served request counts
type OperationStats struct {
	Gets   uint64 // Number of GET requests executed
	Puts   uint64 // Number of PUT requests executed
	Errors uint64 // Number of ERROR replies sent
}

// pendingRequest pairs a decoded request with the routing envelope it
// arrived under. A failed decode travels in err and becomes an ERROR
// reply in a worker, so every message takes the same path back out.
type pendingRequest struct {
	envelope [][]byte
	req      protocol.Request
	err      error
}

// reply pairs outgoing body frames with the envelope that routes them
type reply struct {
	envelope [][]byte
	frames   [][]byte
}

// Server owns the ROUTER socket, the worker pool, and the sharded store.
// Create with New, then Start and Stop exactly once each.
type Server struct {
	cfg   Config
	store *store.ShardedStore
	sock  zmq4.Socket

	requests chan pendingRequest
	replies  chan reply

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats OperationStats
}

// New creates an unstarted server from cfg
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	// Queue capacity scales with the pool so a burst keeps every worker
	// busy without buffering unbounded work
	depth := cfg.Workers * 4

	return &Server{
		cfg:      cfg,
		store:    store.NewShardedStore(cfg.Shards),
		sock:     zmq4.NewRouter(ctx),
		requests: make(chan pendingRequest, depth),
		replies:  make(chan reply, depth),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the endpoint and launches the socket loops and workers
// Returns an error if the endpoint cannot be bound
func (s *Server) Start() error {
	if err := PrepareEndpoint(s.cfg.Bind); err != nil {
		return err
	}
	if err := s.sock.Listen(s.cfg.Bind); err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Bind, err)
	}

	// Workers drain the request queue; when the last one exits the
	// reply channel is closed so the send loop can drain and return
	var workers sync.WaitGroup
	workers.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer workers.Done()
			s.workerLoop()
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		workers.Wait()
		close(s.replies)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.requests)
		s.recvLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendLoop()
	}()

	return nil
}

// Stop shuts the pipeline down and releases the socket.
// The receive loop exits first, workers finish what they already
// dequeued, then the send loop drains. Requests still queued behind a
// canceled context are dropped; their clients see a closed connection.
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
	if err := s.sock.Close(); err != nil {
		log.Printf("close socket: %v", err)
	}
}

// Endpoint returns the bound address. When the configured endpoint asked
// for an ephemeral port (tcp://127.0.0.1:0) this is the resolved one.
func (s *Server) Endpoint() string {
	addr := s.sock.Addr()
	if addr == nil {
		return s.cfg.Bind
	}
	switch addr.Network() {
	case "tcp":
		return "tcp://" + addr.String()
	case "unix":
		return "ipc://" + addr.String()
	}
	return s.cfg.Bind
}

// Counters returns a snapshot of the request counters
func (s *Server) Counters() OperationStats {
	return OperationStats{
		Gets:   atomic.LoadUint64(&s.stats.Gets),
		Puts:   atomic.LoadUint64(&s.stats.Puts),
		Errors: atomic.LoadUint64(&s.stats.Errors),
	}
}

// StoreStats reports aggregate store occupancy
func (s *Server) StoreStats() store.StoreStats {
	return s.store.Stats()
}

// Execute applies one decoded request to st and returns the reply body.
// This is the single place protocol semantics meet the store, shared by
// the pooled server and the single-threaded reference server.
func Execute(st *store.ShardedStore, req protocol.Request) [][]byte {
	switch req.Op {
	case protocol.OpPut:
		if st.Put(req.Key, req.TS, req.Data) == store.Stale {
			return protocol.EncodeStale()
		}
		return protocol.EncodeStored()
	case protocol.OpGet:
		rec, ok := st.Get(req.Key)
		if !ok {
			return protocol.EncodeMiss()
		}
		return protocol.EncodeValue(rec.TS, rec.Data)
	}
	return protocol.EncodeError(fmt.Sprintf("unsupported operation %v", req.Op))
}

package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensanjo/kvz/internal/protocol"
	"github.com/jensanjo/kvz/internal/store"
)

// TestSplitEnvelope verifies envelope extraction for the peers a ROUTER
// socket actually produces: REQ clients with a delimiter frame and bare
// DEALER peers without one.
func TestSplitEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		frames   [][]byte
		wantEnv  [][]byte
		wantBody [][]byte
	}{
		{
			name:     "req client with delimiter",
			frames:   [][]byte{[]byte("id-1"), {}, []byte("GET"), []byte("k")},
			wantEnv:  [][]byte{[]byte("id-1"), {}},
			wantBody: [][]byte{[]byte("GET"), []byte("k")},
		},
		{
			name:     "dealer without delimiter",
			frames:   [][]byte{[]byte("id-2"), []byte("GET"), []byte("k")},
			wantEnv:  [][]byte{[]byte("id-2")},
			wantBody: [][]byte{[]byte("GET"), []byte("k")},
		},
		{
			name:     "delimiter with empty body",
			frames:   [][]byte{[]byte("id-3"), {}},
			wantEnv:  [][]byte{[]byte("id-3"), {}},
			wantBody: [][]byte{},
		},
		{
			name:     "identity only",
			frames:   [][]byte{[]byte("id-4")},
			wantEnv:  [][]byte{[]byte("id-4")},
			wantBody: [][]byte{},
		},
		{
			name:     "no frames at all",
			frames:   nil,
			wantEnv:  nil,
			wantBody: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, body := SplitEnvelope(tt.frames)
			assert.Equal(t, tt.wantEnv, env)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

// TestExecute verifies the request-to-reply mapping against a live store.
func TestExecute(t *testing.T) {
	st := store.NewShardedStore(4)

	// First write is stored
	frames := Execute(st, protocol.Request{Op: protocol.OpPut, Key: "k", TS: 100, Data: []byte("v1")})
	stored, err := protocol.DecodePutReply(frames)
	require.NoError(t, err)
	assert.True(t, stored)

	// Older write is rejected as stale
	frames = Execute(st, protocol.Request{Op: protocol.OpPut, Key: "k", TS: 50, Data: []byte("late")})
	stored, err = protocol.DecodePutReply(frames)
	require.NoError(t, err)
	assert.False(t, stored)

	// The stored record is readable
	frames = Execute(st, protocol.Request{Op: protocol.OpGet, Key: "k"})
	val, err := protocol.DecodeGetReply(frames)
	require.NoError(t, err)
	require.NotNil(t, val)
	assert.Equal(t, uint64(100), val.TS)
	assert.Equal(t, []byte("v1"), val.Data)

	// Absent keys miss
	frames = Execute(st, protocol.Request{Op: protocol.OpGet, Key: "absent"})
	val, err = protocol.DecodeGetReply(frames)
	require.NoError(t, err)
	assert.Nil(t, val)
}

// newChannelServer builds a server wired for direct channel access, with
// no socket, for driving workerLoop in isolation.
func newChannelServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      Config{}.withDefaults(),
		store:    store.NewShardedStore(4),
		requests: make(chan pendingRequest, 16),
		replies:  make(chan reply, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// TestWorkerLoop drives a single worker through the request channel and
// verifies each pending request yields exactly one routed reply.
func TestWorkerLoop(t *testing.T) {
	t.Run("put then get", func(t *testing.T) {
		srv := newChannelServer()
		defer srv.cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.workerLoop()
		}()

		env := [][]byte{[]byte("client-1"), {}}
		srv.requests <- pendingRequest{
			envelope: env,
			req:      protocol.Request{Op: protocol.OpPut, Key: "k", TS: 7, Data: []byte("v")},
		}

		rep := <-srv.replies
		assert.Equal(t, env, rep.envelope, "reply must carry the request envelope")
		stored, err := protocol.DecodePutReply(rep.frames)
		require.NoError(t, err)
		assert.True(t, stored)

		srv.requests <- pendingRequest{
			envelope: env,
			req:      protocol.Request{Op: protocol.OpGet, Key: "k"},
		}

		rep = <-srv.replies
		val, err := protocol.DecodeGetReply(rep.frames)
		require.NoError(t, err)
		require.NotNil(t, val)
		assert.Equal(t, uint64(7), val.TS)
		assert.Equal(t, []byte("v"), val.Data)

		close(srv.requests)
		wg.Wait()

		counters := srv.Counters()
		assert.Equal(t, uint64(1), counters.Puts)
		assert.Equal(t, uint64(1), counters.Gets)
		assert.Equal(t, uint64(0), counters.Errors)
	})

	t.Run("decode error becomes ERROR reply", func(t *testing.T) {
		srv := newChannelServer()
		defer srv.cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.workerLoop()
		}()

		env := [][]byte{[]byte("client-2"), {}}
		srv.requests <- pendingRequest{envelope: env, err: protocol.ErrEmptyMessage}

		rep := <-srv.replies
		assert.Equal(t, env, rep.envelope)
		_, err := protocol.DecodePutReply(rep.frames)
		var remote protocol.RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "empty message", string(remote))

		close(srv.requests)
		wg.Wait()

		counters := srv.Counters()
		assert.Equal(t, uint64(1), counters.Errors)
	})
}

// dialReq connects a REQ socket to the server under test.
func dialReq(t *testing.T, endpoint string) zmq4.Socket {
	t.Helper()
	sock := zmq4.NewReq(context.Background())
	require.NoError(t, sock.Dial(endpoint), "Failed to dial %s", endpoint)
	t.Cleanup(func() { sock.Close() })
	return sock
}

// roundTrip sends one request body and returns the reply body.
func roundTrip(t *testing.T, sock zmq4.Socket, frames [][]byte) [][]byte {
	t.Helper()
	require.NoError(t, sock.Send(zmq4.NewMsgFrom(frames...)))
	msg, err := sock.Recv()
	require.NoError(t, err)
	return msg.Frames
}

// TestServerRoundTrip exercises the full socket pipeline with a real REQ
// client against an ephemeral port.
func TestServerRoundTrip(t *testing.T) {
	srv := New(Config{Bind: "tcp://127.0.0.1:0", Workers: 2, Shards: 4})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	endpoint := srv.Endpoint()
	require.NotEqual(t, "tcp://127.0.0.1:0", endpoint, "ephemeral port must be resolved")

	sock := dialReq(t, endpoint)

	// Store a record
	stored, err := protocol.DecodePutReply(roundTrip(t, sock, protocol.EncodePut("user:1", 100, []byte("alice"))))
	require.NoError(t, err)
	assert.True(t, stored)

	// A stale write is rejected and does not disturb the record
	stored, err = protocol.DecodePutReply(roundTrip(t, sock, protocol.EncodePut("user:1", 100, []byte("bob"))))
	require.NoError(t, err)
	assert.False(t, stored)

	val, err := protocol.DecodeGetReply(roundTrip(t, sock, protocol.EncodeGet("user:1")))
	require.NoError(t, err)
	require.NotNil(t, val)
	assert.Equal(t, uint64(100), val.TS)
	assert.Equal(t, []byte("alice"), val.Data)

	// Absent key misses
	val, err = protocol.DecodeGetReply(roundTrip(t, sock, protocol.EncodeGet("user:2")))
	require.NoError(t, err)
	assert.Nil(t, val)

	// A malformed request comes back as a served ERROR, not a hang
	_, err = protocol.DecodeGetReply(roundTrip(t, sock, [][]byte{[]byte("NOPE")}))
	var remote protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, string(remote), "unknown command")

	counters := srv.Counters()
	assert.Equal(t, uint64(2), counters.Puts)
	assert.Equal(t, uint64(2), counters.Gets)
	assert.Equal(t, uint64(1), counters.Errors)

	stats := srv.StoreStats()
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, len("alice"), stats.Bytes)
}

// TestServerConcurrentClients verifies the envelope routing under many
// simultaneous REQ clients, each with its own socket.
func TestServerConcurrentClients(t *testing.T) {
	srv := New(Config{Bind: "tcp://127.0.0.1:0", Workers: 4, Shards: 16})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	endpoint := srv.Endpoint()

	numClients := 8
	numOps := 20

	var wg sync.WaitGroup
	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()

			sock := zmq4.NewReq(context.Background())
			defer sock.Close()
			if !assert.NoError(t, sock.Dial(endpoint)) {
				return
			}

			key := fmt.Sprintf("client-%d", id)
			for j := 1; j <= numOps; j++ {
				payload := []byte(fmt.Sprintf("payload-%d-%d", id, j))

				if err := sock.Send(zmq4.NewMsgFrom(protocol.EncodePut(key, uint64(j), payload)...)); !assert.NoError(t, err) {
					return
				}
				msg, err := sock.Recv()
				if !assert.NoError(t, err) {
					return
				}
				stored, err := protocol.DecodePutReply(msg.Frames)
				if !assert.NoError(t, err) || !assert.True(t, stored) {
					return
				}

				if err := sock.Send(zmq4.NewMsgFrom(protocol.EncodeGet(key)...)); !assert.NoError(t, err) {
					return
				}
				msg, err = sock.Recv()
				if !assert.NoError(t, err) {
					return
				}
				val, err := protocol.DecodeGetReply(msg.Frames)
				if !assert.NoError(t, err) || !assert.NotNil(t, val) {
					return
				}

				// Each client must only ever see its own writes
				assert.Equal(t, uint64(j), val.TS)
				assert.Equal(t, payload, val.Data)
			}
		}(i)
	}

	wg.Wait()

	counters := srv.Counters()
	assert.Equal(t, uint64(numClients*numOps), counters.Puts)
	assert.Equal(t, uint64(numClients*numOps), counters.Gets)
}

// TestServerStartStop verifies a quiet server starts and tears down
// without leaking goroutines into a hang.
func TestServerStartStop(t *testing.T) {
	srv := New(Config{Bind: "tcp://127.0.0.1:0", Workers: 2, Shards: 2})

	require.NoError(t, srv.Start())
	assert.NotEmpty(t, srv.Endpoint())
	srv.Stop()
}

// TestEndpointBeforeStart verifies Endpoint falls back to the configured
// bind address until the socket is listening.
func TestEndpointBeforeStart(t *testing.T) {
	srv := New(Config{Bind: "tcp://127.0.0.1:0"})
	assert.Equal(t, "tcp://127.0.0.1:0", srv.Endpoint())
	srv.cancel()
	srv.sock.Close()
}

// TestPrepareEndpoint covers ipc socket-file handling.
func TestPrepareEndpoint(t *testing.T) {
	t.Run("tcp needs no preparation", func(t *testing.T) {
		assert.NoError(t, PrepareEndpoint("tcp://*:5555"))
	})

	t.Run("ipc without a path", func(t *testing.T) {
		assert.Error(t, PrepareEndpoint("ipc://"))
	})

	t.Run("ipc with missing directory", func(t *testing.T) {
		assert.Error(t, PrepareEndpoint("ipc:///kvz-no-such-dir/kvz.sock"))
	})

	t.Run("fresh path passes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kvz.sock")
		assert.NoError(t, PrepareEndpoint("ipc://"+path))
	})

	t.Run("stale socket file is removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kvz.sock")

		// Leave a dead socket file behind, the way a crashed process does
		ln, err := net.Listen("unix", path)
		require.NoError(t, err)
		ln.(*net.UnixListener).SetUnlinkOnClose(false)
		require.NoError(t, ln.Close())
		_, err = os.Stat(path)
		require.NoError(t, err, "socket file should still exist")

		require.NoError(t, PrepareEndpoint("ipc://"+path))
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err), "stale socket file should be gone")
	})

	t.Run("regular file is refused", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kvz.sock")
		require.NoError(t, os.WriteFile(path, []byte("not a socket"), 0o644))

		err := PrepareEndpoint("ipc://" + path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a socket")

		// The file must survive the refusal
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr)
	})
}

// Package client provides the Go client for a kvz server, wrapping a
// ZeroMQ REQ socket behind Put and Get calls.
//
// # Overview
//
// The client speaks the frame protocol defined in internal/protocol over
// a REQ socket, which enforces strict request/reply alternation on the
// wire. That lock-step is what makes the API this small: there is never
// a second outstanding request whose reply could be confused with the
// first.
//
// # Semantics
//
// Put returns (false, nil) when the server rejected the write as stale.
// Get returns (nil, nil) when the key is absent. Neither outcome is an
// error; both are answers. Server-reported failures arrive as
// protocol.RemoteError, transport failures as wrapped socket errors.
//
// # Concurrency
//
// A Client is not safe for concurrent use. REQ sockets
// reject interleaved sends, so sharing one client across goroutines
// would serialize them at best and break the socket state machine at
// worst. The demo and bench commands open one client per goroutine,
// which is the intended pattern.
//
// # Usage Example
//
//	c, err := client.Dial(ctx, "tcp://127.0.0.1:5555",
//	    client.WithIdentity("ingest-3"))
//	if err != nil {
//	    log.Fatalf("Failed to connect: %v", err)
//	}
//	defer c.Close()
//
//	stored, err := c.Put("user:42", uint64(time.Now().UnixNano()), payload)
//	if err != nil {
//	    log.Fatalf("put: %v", err)
//	}
//	if !stored {
//	    log.Printf("a newer record already exists")
//	}
//
// # See Also
//
// Related packages:
//   - internal/protocol: Frame layout and reply decoding
//   - internal/server: The ROUTER peer this client talks to
package client

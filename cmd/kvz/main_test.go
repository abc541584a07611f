package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-zeromq/zmq4"

	"github.com/jensanjo/kvz/internal/protocol"
	"github.com/jensanjo/kvz/internal/store"
)

// reqRoundTrip sends one request body and returns the reply body
func reqRoundTrip(t *testing.T, sock zmq4.Socket, frames [][]byte) [][]byte {
	t.Helper()
	if err := sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	msg, err := sock.Recv()
	if err != nil {
		t.Fatalf("Failed to recv: %v", err)
	}
	return msg.Frames
}

// TestServeLoop runs the reference server loop against a live REQ client
// and verifies the wire behavior matches the pooled server's.
func TestServeLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sock := zmq4.NewRouter(ctx)
	defer sock.Close()
	if err := sock.Listen("tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to bind: %v", err)
	}
	endpoint := "tcp://" + sock.Addr().String()

	done := make(chan error, 1)
	go func() {
		done <- serveLoop(sock, store.NewShardedStore(1))
	}()

	req := zmq4.NewReq(context.Background())
	defer req.Close()
	if err := req.Dial(endpoint); err != nil {
		t.Fatalf("Failed to dial %s: %v", endpoint, err)
	}

	// First write is stored
	stored, err := protocol.DecodePutReply(reqRoundTrip(t, req, protocol.EncodePut("k", 100, []byte("v1"))))
	if err != nil {
		t.Fatalf("Put reply: %v", err)
	}
	if !stored {
		t.Error("Expected first put to be stored")
	}

	// An equal timestamp is rejected as stale
	stored, err = protocol.DecodePutReply(reqRoundTrip(t, req, protocol.EncodePut("k", 100, []byte("v2"))))
	if err != nil {
		t.Fatalf("Put reply: %v", err)
	}
	if stored {
		t.Error("Expected equal-timestamp put to be stale")
	}

	// The original record is still there
	val, err := protocol.DecodeGetReply(reqRoundTrip(t, req, protocol.EncodeGet("k")))
	if err != nil {
		t.Fatalf("Get reply: %v", err)
	}
	if val == nil {
		t.Fatal("Expected a record")
	}
	if val.TS != 100 || !bytes.Equal(val.Data, []byte("v1")) {
		t.Errorf("Expected (100, 'v1'), got (%d, %s)", val.TS, string(val.Data))
	}

	// An absent key misses without error
	val, err = protocol.DecodeGetReply(reqRoundTrip(t, req, protocol.EncodeGet("absent")))
	if err != nil {
		t.Fatalf("Get reply: %v", err)
	}
	if val != nil {
		t.Errorf("Expected miss, got %+v", val)
	}

	// A malformed request gets an ERROR reply, not a dropped message
	_, err = protocol.DecodeGetReply(reqRoundTrip(t, req, [][]byte{[]byte("BOGUS"), []byte("k")}))
	var remote protocol.RemoteError
	if !errors.As(err, &remote) {
		t.Errorf("Expected RemoteError for malformed request, got %v", err)
	}

	// Canceling the socket context ends the loop with an error
	cancel()
	if err := <-done; err == nil {
		t.Error("Expected serveLoop to return an error after cancel")
	}
}

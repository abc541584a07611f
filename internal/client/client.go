package client

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/jensanjo/kvz/internal/protocol"
)

// options collects the adjustable knobs before the socket exists
type options struct {
	identity string
}

// Option configures a Client created by Dial
type Option func(*options)

// WithIdentity pins the ZeroMQ socket identity instead of letting the
// server assign a generated one. Stable identities make server-side
// traces attributable.
func WithIdentity(id string) Option {
	return func(o *options) { o.identity = id }
}

// Client is a synchronous kvz client over a REQ socket.
// A REQ socket carries one request at a time, so a Client is not safe
// for concurrent use; give each goroutine its own.
type Client struct {
	sock zmq4.Socket
}

// Dial connects to a kvz server endpoint.
// The context governs the life of the connection, not just the dial:
// canceling it tears down the socket.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var zopts []zmq4.Option
	if o.identity != "" {
		zopts = append(zopts, zmq4.WithID(zmq4.SocketIdentity(o.identity)))
	}

	sock := zmq4.NewReq(ctx, zopts...)
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	return &Client{sock: sock}, nil
}

// Put offers (ts, data) for key. stored is false, with a nil error, when
// the server kept an existing record with an equal or newer timestamp.
func (c *Client) Put(key string, ts uint64, data []byte) (stored bool, err error) {
	frames, err := c.roundTrip(protocol.EncodePut(key, ts, data))
	if err != nil {
		return false, err
	}
	return protocol.DecodePutReply(frames)
}

// Get fetches the current record for key. A nil Value with a nil error
// is a miss.
func (c *Client) Get(key string) (*protocol.Value, error) {
	frames, err := c.roundTrip(protocol.EncodeGet(key))
	if err != nil {
		return nil, err
	}
	return protocol.DecodeGetReply(frames)
}

// Close releases the socket
func (c *Client) Close() error {
	return c.sock.Close()
}

// roundTrip performs one strict send/receive exchange
func (c *Client) roundTrip(body [][]byte) ([][]byte, error) {
	if err := c.sock.Send(zmq4.NewMsgFrom(body...)); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	msg, err := c.sock.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv: %w", err)
	}
	return msg.Frames, nil
}

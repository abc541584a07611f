package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensanjo/kvz/internal/server"
)

// startServer brings up a server on an ephemeral port for client tests.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.Config{Bind: "tcp://127.0.0.1:0", Workers: 2, Shards: 8})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

// TestClientPutGet verifies the full request cycle through the public API.
func TestClientPutGet(t *testing.T) {
	srv := startServer(t)

	c, err := Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer c.Close()

	// First write lands
	stored, err := c.Put("user:42", 100, []byte("alice"))
	require.NoError(t, err)
	assert.True(t, stored)

	// Same timestamp is stale, not an error
	stored, err = c.Put("user:42", 100, []byte("mallory"))
	require.NoError(t, err)
	assert.False(t, stored)

	// The original record survives the rejected write
	val, err := c.Get("user:42")
	require.NoError(t, err)
	require.NotNil(t, val)
	assert.Equal(t, uint64(100), val.TS)
	assert.Equal(t, []byte("alice"), val.Data)

	// A newer timestamp replaces
	stored, err = c.Put("user:42", 200, []byte("alice-v2"))
	require.NoError(t, err)
	assert.True(t, stored)

	val, err = c.Get("user:42")
	require.NoError(t, err)
	require.NotNil(t, val)
	assert.Equal(t, uint64(200), val.TS)
	assert.Equal(t, []byte("alice-v2"), val.Data)

	// Absent key is a nil value, not an error
	val, err = c.Get("user:does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, val)
}

// TestClientWithIdentity verifies a pinned identity still routes replies.
func TestClientWithIdentity(t *testing.T) {
	srv := startServer(t)

	c, err := Dial(context.Background(), srv.Endpoint(), WithIdentity("test-client-7"))
	require.NoError(t, err)
	defer c.Close()

	stored, err := c.Put("k", 1, []byte("v"))
	require.NoError(t, err)
	assert.True(t, stored)

	val, err := c.Get("k")
	require.NoError(t, err)
	require.NotNil(t, val)
	assert.Equal(t, []byte("v"), val.Data)
}

// TestClientSequentialReuse verifies one client survives many strict
// request/reply cycles, the REQ alternation contract.
func TestClientSequentialReuse(t *testing.T) {
	srv := startServer(t)

	c, err := Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer c.Close()

	for i := 1; i <= 50; i++ {
		key := fmt.Sprintf("key-%d", i%5)
		stored, err := c.Put(key, uint64(i), []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
		assert.True(t, stored, "iteration %d", i)

		val, err := c.Get(key)
		require.NoError(t, err)
		require.NotNil(t, val)
		assert.Equal(t, uint64(i), val.TS)
	}
}

// TestClientDialBadEndpoint verifies dial failures surface immediately.
func TestClientDialBadEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), "bogus://nowhere")
	assert.Error(t, err)
}

// Package main implements kvz, the command line companion to kvz-router.
// It bundles a single-threaded reference server with client subcommands
// for storing, fetching and exercising records.
//
// Subcommands:
//   - server: Single-threaded reference server on a ROUTER socket
//   - put: Store one record from a flag value or a file
//   - get: Fetch one record to stdout or a file
//   - demo: Run concurrent clients against a server as a smoke test
//
// The reference server and kvz-router speak the identical wire protocol;
// the reference one just executes requests inline as they arrive, which
// makes it handy for debugging client behavior one message at a time.
//
// Example usage:
//
//	# Terminal 1: reference server
//	./kvz server -bind tcp://127.0.0.1:5555
//
//	# Terminal 2: store and read
//	./kvz put -key user:1 -ts 100 -value alice
//	./kvz get -key user:1
//
//	# Smoke test against any server
//	./kvz demo -clients 8 -iters 100
//
// Exit codes:
//   - 0: Success (STALE and MISS outcomes included)
//   - 1: Transport failure or server-reported error
//   - 2: Unknown subcommand or invalid flags
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/jensanjo/kvz/internal/client"
	"github.com/jensanjo/kvz/internal/protocol"
	"github.com/jensanjo/kvz/internal/server"
	"github.com/jensanjo/kvz/internal/store"
)

// defaultEndpoint is where client subcommands connect when -connect is
// not given, matching the server side's default bind port.
const defaultEndpoint = "tcp://127.0.0.1:5555"

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "put":
		runPut(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

// usage prints the top-level command summary
func usage() {
	fmt.Fprintf(os.Stderr, `kvz - timestamped key-value store over ZeroMQ

Usage:
  kvz server [-bind ENDPOINT]
  kvz put    [-connect ENDPOINT] -key KEY -ts N [-value BYTES | -file PATH]
  kvz get    [-connect ENDPOINT] -key KEY [-out PATH]
  kvz demo   [-connect ENDPOINT] [-clients N] [-iters N]

Run 'kvz COMMAND -h' for details on a command.
`)
}

// requireFlags exits with a usage error when a required flag is missing.
// flag.FlagSet cannot express required flags itself, so presence is
// checked against the set of flags the user actually passed.
func requireFlags(fs *flag.FlagSet, names ...string) {
	seen := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })

	for _, name := range names {
		if !seen[name] {
			fmt.Fprintf(os.Stderr, "missing required flag -%s\n", name)
			fs.Usage()
			os.Exit(2)
		}
	}
}

// runServer starts the single-threaded reference server.
//
// Requests are executed inline on the receive loop, one at a time, which
// trades throughput for total predictability. The wire behavior is
// frame-for-frame identical to kvz-router.
func runServer(args []string) {
	fs := flag.NewFlagSet("kvz server", flag.ExitOnError)
	bind := fs.String("bind", server.DefaultBind, "ZeroMQ endpoint to bind")
	fs.Parse(args)

	if err := server.PrepareEndpoint(*bind); err != nil {
		logFatal("prepare endpoint: %v", err)
	}

	sock := zmq4.NewRouter(context.Background())
	defer sock.Close()
	if err := sock.Listen(*bind); err != nil {
		logFatal("bind %s: %v", *bind, err)
	}

	log.Printf("kvz server listening on %s (single-threaded)", *bind)

	if err := serveLoop(sock, store.NewShardedStore(1)); err != nil {
		logFatal("serve: %v", err)
	}
}

// serveLoop answers requests inline until the socket fails.
// Split from runServer so tests can drive it over a cancelable socket.
func serveLoop(sock zmq4.Socket, st *store.ShardedStore) error {
	for {
		msg, err := sock.Recv()
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}

		envelope, body := server.SplitEnvelope(msg.Frames)
		if len(envelope) == 0 {
			continue
		}

		var frames [][]byte
		if req, err := protocol.DecodeRequest(body); err != nil {
			frames = protocol.EncodeError(err.Error())
		} else {
			frames = server.Execute(st, req)
		}

		out := make([][]byte, 0, len(envelope)+len(frames))
		out = append(out, envelope...)
		out = append(out, frames...)
		if err := sock.Send(zmq4.NewMsgFrom(out...)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}

// runPut stores one record.
//
// The value comes from -value, or from a file via -file when the bytes
// are binary or too large for a command line. A STALE outcome reports on
// stderr and exits 0, same as OK; only transport and server errors
// exit 1.
func runPut(args []string) {
	fs := flag.NewFlagSet("kvz put", flag.ExitOnError)
	connect := fs.String("connect", defaultEndpoint, "server endpoint")
	key := fs.String("key", "", "record key (required)")
	ts := fs.Uint64("ts", 0, "logical timestamp (required)")
	value := fs.String("value", "", "value bytes")
	file := fs.String("file", "", "read value from this file instead of -value")
	fs.Parse(args)

	requireFlags(fs, "key", "ts")

	data := []byte(*value)
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			logFatal("read value file: %v", err)
		}
		data = b
	}

	c, err := client.Dial(context.Background(), *connect)
	if err != nil {
		logFatal("connect: %v", err)
	}
	defer c.Close()

	stored, err := c.Put(*key, *ts, data)
	if err != nil {
		logFatal("put: %v", err)
	}
	if !stored {
		fmt.Fprintln(os.Stderr, "PUT STALE (newer value already present)")
		return
	}
	fmt.Fprintf(os.Stderr, "PUT OK (%d bytes)\n", len(data))
}

// runGet fetches one record.
//
// The raw value bytes go to stdout, or to -out when given, so the
// command composes with shell pipelines. Status lines go to stderr for
// the same reason. A MISS exits 0; absent is an answer, not a failure.
func runGet(args []string) {
	fs := flag.NewFlagSet("kvz get", flag.ExitOnError)
	connect := fs.String("connect", defaultEndpoint, "server endpoint")
	key := fs.String("key", "", "record key (required)")
	out := fs.String("out", "", "write value to this file instead of stdout")
	fs.Parse(args)

	requireFlags(fs, "key")

	c, err := client.Dial(context.Background(), *connect)
	if err != nil {
		logFatal("connect: %v", err)
	}
	defer c.Close()

	val, err := c.Get(*key)
	if err != nil {
		logFatal("get: %v", err)
	}
	if val == nil {
		fmt.Fprintln(os.Stderr, "GET MISS")
		return
	}

	fmt.Fprintf(os.Stderr, "GET OK: ts=%d size=%d bytes\n", val.TS, len(val.Data))

	dst := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logFatal("create output file: %v", err)
		}
		defer f.Close()
		dst = f
	}
	if _, err := dst.Write(val.Data); err != nil {
		logFatal("write value: %v", err)
	}
}

// runDemo hammers a server with concurrent clients as a smoke test.
//
// Each client gets its own REQ socket and alternates PUT and GET over a
// small shared keyspace, with timestamps that rise monotonically within
// each client. Clients racing on the same key make STALE outcomes
// normal; the demo counts them rather than treating them as failures.
func runDemo(args []string) {
	fs := flag.NewFlagSet("kvz demo", flag.ExitOnError)
	connect := fs.String("connect", defaultEndpoint, "server endpoint")
	clients := fs.Int("clients", 8, "number of concurrent clients")
	iters := fs.Int("iters", 100, "operations per client")
	fs.Parse(args)

	if *clients < 1 || *iters < 1 {
		fmt.Fprintln(os.Stderr, "clients and iters must be at least 1")
		os.Exit(2)
	}

	var stored, stale, failures uint64

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(*clients)
	for i := 0; i < *clients; i++ {
		go func(id int) {
			defer wg.Done()

			c, err := client.Dial(context.Background(), *connect,
				client.WithIdentity(fmt.Sprintf("demo-%d", id)))
			if err != nil {
				log.Printf("demo-%d: connect: %v", id, err)
				atomic.AddUint64(&failures, 1)
				return
			}
			defer c.Close()

			for j := 0; j < *iters; j++ {
				// Sixteen shared keys force clients into each
				// other's way on purpose
				key := fmt.Sprintf("key-%d", j%16)
				payload := []byte(fmt.Sprintf("hello-from-%d-%d", id, j))

				// Monotonic within a client, disjoint ranges
				// across clients
				ts := uint64(id)*1_000_000 + uint64(j)

				ok, err := c.Put(key, ts, payload)
				if err != nil {
					log.Printf("demo-%d: put %s: %v", id, key, err)
					atomic.AddUint64(&failures, 1)
					return
				}
				if ok {
					atomic.AddUint64(&stored, 1)
				} else {
					atomic.AddUint64(&stale, 1)
				}

				val, err := c.Get(key)
				if err != nil {
					log.Printf("demo-%d: get %s: %v", id, key, err)
					atomic.AddUint64(&failures, 1)
					return
				}
				if val == nil {
					log.Printf("demo-%d: get %s: unexpected miss", id, key)
					atomic.AddUint64(&failures, 1)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	log.Printf("demo complete: %d clients x %d iters in %v (%d stored, %d stale, %d failures)",
		*clients, *iters, time.Since(start).Round(time.Millisecond),
		atomic.LoadUint64(&stored), atomic.LoadUint64(&stale), atomic.LoadUint64(&failures))

	if atomic.LoadUint64(&failures) > 0 {
		os.Exit(1)
	}
}

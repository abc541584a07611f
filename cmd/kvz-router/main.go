// Package main implements kvz-router, the production kvz server that
// multiplexes many concurrent clients onto one ZeroMQ ROUTER socket and
// executes their requests on a worker pool.
//
// The router is the serving half of kvz, responsible for:
//   - Binding the public ZeroMQ endpoint
//   - Decoding PUT/GET request frames
//   - Executing requests on the sharded in-memory store
//   - Routing every reply back to the client that asked
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               kvz-router                │
//	├─────────────────────────────────────────┤
//	│  ROUTER socket  - client multiplexing   │
//	│  recv loop      - decode + enqueue      │
//	│  worker pool    - execute requests      │
//	│  send loop      - reply routing         │
//	│  sharded store  - last-write-wins state │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - -bind: ZeroMQ endpoint to bind (default: "tcp://*:5555")
//   - -workers: Worker goroutines (default: 8)
//   - -shards: Store shards (default: 64)
//
// Example usage:
//
//	# Start the router on the default endpoint
//	./kvz-router
//
//	# Start with an explicit endpoint and a bigger pool
//	./kvz-router -bind tcp://0.0.0.0:7700 -workers 16 -shards 128
//
//	# Store and read a record with the companion CLI
//	./kvz put -connect tcp://127.0.0.1:5555 -key user:1 -ts 100 -value alice
//	./kvz get -connect tcp://127.0.0.1:5555 -key user:1
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Failed to bind the endpoint
//   - 2: Invalid flag values
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jensanjo/kvz/internal/server"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

// validateFlags rejects pool sizes the server cannot run with.
// Zero would deadlock the pipeline (no worker ever drains the queue)
// and the store clamps silently, so both are caught here where the
// operator can see the complaint.
func validateFlags(workers, shards int) error {
	if workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if shards < 1 {
		return errors.New("shards must be at least 1")
	}
	return nil
}

// main wires flags into a server.Config, runs the server until a
// shutdown signal arrives, and prints the final counters.
//
// The main function:
//  1. Parses and validates command line flags
//  2. Starts the server (bind, workers, store)
//  3. Blocks until SIGINT or SIGTERM
//  4. Drains the pipeline and reports statistics
func main() {
	bind := flag.String("bind", server.DefaultBind, "ZeroMQ endpoint to bind")
	workers := flag.Int("workers", server.DefaultWorkers, "number of worker goroutines")
	shards := flag.Int("shards", server.DefaultShards, "number of store shards")
	flag.Parse()

	if err := validateFlags(*workers, *shards); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	srv := server.New(server.Config{
		Bind:    *bind,
		Workers: *workers,
		Shards:  *shards,
	})
	if err := srv.Start(); err != nil {
		logFatal("start: %v", err)
	}

	log.Printf("kvz-router listening on %s with %d workers, %d shards",
		srv.Endpoint(), *workers, *shards)

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	srv.Stop()

	// Final accounting so an operator can see what this process did
	counters := srv.Counters()
	stats := srv.StoreStats()
	log.Printf("served %d puts, %d gets, %d errors; %d keys (%d bytes) resident",
		counters.Puts, counters.Gets, counters.Errors, stats.Keys, stats.Bytes)
	log.Println("kvz-router stopped")
}

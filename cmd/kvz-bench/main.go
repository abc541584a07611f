// Package main implements kvz-bench, a closed-loop latency and
// throughput benchmark for a running kvz server.
//
// Each thread owns one REQ client and a private slice of the keyspace,
// so threads never contend on keys unless you make them. Operations are
// timed individually; the tool reports throughput over the timed window
// plus the latency distribution, and can dump every sample to CSV for
// offline analysis.
//
// Workload model:
//   - threads x iters timed operations, each thread in lock-step (REQ)
//   - get-ratio picks GET vs PUT per operation from a seeded RNG
//   - keys-per-thread distinct keys per thread, visited round-robin
//   - warmup PUTs per thread seed the keyspace before the timed window
//   - PUT timestamps count up from the wall clock in milliseconds
//
// The RNG seed is fixed per thread, so two runs with the same flags
// issue the same operation sequence against the same keys.
//
// Example usage:
//
//	./kvz-bench -connect tcp://127.0.0.1:5555 -threads 8 -iters 50000 \
//	    -get-ratio 0.9 -value-size 256 -csv latencies.csv
//
// Example output:
//
//	== kvz latency benchmark ==
//	endpoint      : tcp://127.0.0.1:5555
//	threads       : 8
//	iters/thread  : 50000
//	get ratio     : 0.900
//	value size    : 256 B
//	keys/thread   : 64
//	warmup/thread : 5000
//
//	ops total     : 400000
//	ops GET/PUT   : 359882/40118 (0 misses, 0 stale retries)
//	throughput    : 18553 ops/s (timed window)
//	latency (us)  : p50 389  p95 602  p99 855  p99.9 1203  p99.99 2288  max 4100  avg 412.3
//
// Exit codes:
//   - 0: All threads completed
//   - 1: A thread failed mid-run
//   - 2: Invalid flag values
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/jensanjo/kvz/internal/client"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

// benchConfig carries the per-thread workload parameters
type benchConfig struct {
	connect       string
	iters         int
	getRatio      float64
	valueSize     int
	keysPerThread int
	warmup        int
}

// sample is one timed operation
type sample struct {
	us uint32 // Latency in whole microseconds
	op byte   // 'p' for PUT, 'g' for GET
}

// threadResult collects what one worker thread measured
type threadResult struct {
	samples      []sample
	puts         int
	gets         int
	staleRetries int
	misses       int
	err          error
}

func main() {
	connect := flag.String("connect", "tcp://127.0.0.1:5555", "server endpoint")
	threads := flag.Int("threads", 8, "concurrent client threads")
	iters := flag.Int("iters", 50000, "timed operations per thread")
	getRatio := flag.Float64("get-ratio", 0.9, "fraction of operations that are GETs (0..1)")
	valueSize := flag.Int("value-size", 256, "value payload size in bytes")
	keysPerThread := flag.Int("keys-per-thread", 64, "distinct keys per thread")
	warmup := flag.Int("warmup", 5000, "untimed warmup PUTs per thread")
	csvPath := flag.String("csv", "", "write per-operation latencies to this CSV file")
	flag.Parse()

	if *threads < 1 || *iters < 1 || *valueSize < 1 || *keysPerThread < 1 {
		fmt.Fprintln(os.Stderr, "threads, iters, value-size and keys-per-thread must be at least 1")
		os.Exit(2)
	}
	if *getRatio < 0 || *getRatio > 1 {
		fmt.Fprintln(os.Stderr, "get-ratio must be between 0 and 1")
		os.Exit(2)
	}
	if *warmup < 0 {
		fmt.Fprintln(os.Stderr, "warmup must not be negative")
		os.Exit(2)
	}

	cfg := benchConfig{
		connect:       *connect,
		iters:         *iters,
		getRatio:      *getRatio,
		valueSize:     *valueSize,
		keysPerThread: *keysPerThread,
		warmup:        *warmup,
	}

	log.Printf("kvz-bench: %d threads x %d iters against %s", *threads, *iters, *connect)

	// All threads connect and warm up first, then start together so the
	// timed window measures a fully loaded server from its first sample
	start := make(chan struct{})
	var ready, done sync.WaitGroup
	results := make([]threadResult, *threads)

	ready.Add(*threads)
	done.Add(*threads)
	for tid := 0; tid < *threads; tid++ {
		go func(tid int) {
			defer done.Done()
			results[tid] = benchWorker(tid, cfg, &ready, start)
		}(tid)
	}

	ready.Wait()
	time.Sleep(50 * time.Millisecond) // Let the last handshake settle
	begin := time.Now()
	close(start)
	done.Wait()
	window := time.Since(begin)

	var all []uint32
	var puts, gets, staleRetries, misses int
	failed := false
	for tid := range results {
		res := &results[tid]
		if res.err != nil {
			log.Printf("thread %d failed: %v", tid, res.err)
			failed = true
			continue
		}
		puts += res.puts
		gets += res.gets
		staleRetries += res.staleRetries
		misses += res.misses
		for _, s := range res.samples {
			all = append(all, s.us)
		}
	}
	if failed {
		logFatal("aborting: not all threads completed")
	}

	slices.Sort(all)
	total := len(all)
	var sum uint64
	for _, us := range all {
		sum += uint64(us)
	}

	fmt.Println("== kvz latency benchmark ==")
	fmt.Printf("endpoint      : %s\n", cfg.connect)
	fmt.Printf("threads       : %d\n", *threads)
	fmt.Printf("iters/thread  : %d\n", cfg.iters)
	fmt.Printf("get ratio     : %.3f\n", cfg.getRatio)
	fmt.Printf("value size    : %d B\n", cfg.valueSize)
	fmt.Printf("keys/thread   : %d\n", cfg.keysPerThread)
	fmt.Printf("warmup/thread : %d\n", cfg.warmup)
	fmt.Println()
	fmt.Printf("ops total     : %d\n", total)
	fmt.Printf("ops GET/PUT   : %d/%d (%d misses, %d stale retries)\n",
		gets, puts, misses, staleRetries)
	fmt.Printf("throughput    : %.0f ops/s (timed window)\n",
		float64(total)/window.Seconds())
	fmt.Printf("latency (us)  : p50 %d  p95 %d  p99 %d  p99.9 %d  p99.99 %d  max %d  avg %.1f\n",
		percentile(all, 0.50), percentile(all, 0.95), percentile(all, 0.99),
		percentile(all, 0.999), percentile(all, 0.9999), all[total-1],
		float64(sum)/float64(total))

	if *csvPath != "" {
		if err := writeCSV(*csvPath, results); err != nil {
			logFatal("write csv: %v", err)
		}
		log.Printf("wrote %d samples to %s", total, *csvPath)
	}
}

// benchWorker runs one thread's share of the workload and reports what
// it measured. It signals ready after connect and warmup, then blocks
// until every thread is released together.
func benchWorker(tid int, cfg benchConfig, ready *sync.WaitGroup, start <-chan struct{}) threadResult {
	res := threadResult{samples: make([]sample, 0, cfg.iters)}

	// Fixed per-thread seed keeps the operation sequence reproducible
	rng := rand.New(rand.NewSource(0xC0FFEE + int64(tid)))
	prefix := fmt.Sprintf("bench-%d-%s-", tid, randSuffix(rng))
	keys := make([]string, cfg.keysPerThread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s%d", prefix, i)
	}

	c, err := client.Dial(context.Background(), cfg.connect,
		client.WithIdentity(fmt.Sprintf("bench-%d", tid)))
	if err != nil {
		ready.Done()
		res.err = fmt.Errorf("connect: %w", err)
		return res
	}
	defer c.Close()

	value := make([]byte, cfg.valueSize)
	rng.Read(value)

	// Wall-clock milliseconds as the timestamp base, counting up one per
	// PUT from there. Epoch milliseconds are the convention the CLI
	// clients stamp with, so bench records and manual records interleave
	// sensibly on a shared server.
	base := uint64(time.Now().UnixMilli())
	for i := 0; i < cfg.warmup; i++ {
		key := keys[i%len(keys)]
		if _, err := c.Put(key, base+uint64(i), value); err != nil {
			ready.Done()
			res.err = fmt.Errorf("warmup: %w", err)
			return res
		}
		if i%128 == 0 {
			value[rng.Intn(len(value))] ^= byte(i) * 31
		}
	}

	ready.Done()
	<-start

	ts := base + uint64(cfg.warmup)
	for i := 0; i < cfg.iters; i++ {
		key := keys[i%len(keys)]

		if rng.Float64() < cfg.getRatio {
			t0 := time.Now()
			val, err := c.Get(key)
			elapsed := time.Since(t0)
			if err != nil {
				res.err = fmt.Errorf("get %s: %w", key, err)
				return res
			}
			res.gets++
			res.samples = append(res.samples, sample{us: micros(elapsed), op: 'g'})

			if val == nil {
				// Cold key with warmup off; seed it so later reads hit
				res.misses++
				ts++
				if _, err := c.Put(key, ts, value); err != nil {
					res.err = fmt.Errorf("seed %s: %w", key, err)
					return res
				}
			}
			continue
		}

		ts++
		value[(i+tid)%len(value)] ^= byte(i) * 13 // Keep payloads from all being identical
		t0 := time.Now()
		stored, err := c.Put(key, ts, value)
		elapsed := time.Since(t0)
		if err != nil {
			res.err = fmt.Errorf("put %s: %w", key, err)
			return res
		}
		res.puts++
		res.samples = append(res.samples, sample{us: micros(elapsed), op: 'p'})

		if !stored {
			// A leftover record from an earlier run holds a newer
			// timestamp; bump past it and retry once, untimed
			res.staleRetries++
			ts++
			if _, err := c.Put(key, ts, value); err != nil {
				res.err = fmt.Errorf("retry put %s: %w", key, err)
				return res
			}
		}
	}

	return res
}

// randSuffix returns a short random tag separating this thread's keys.
// With the fixed per-thread seed the tag, and so the whole keyspace, is
// identical run to run.
func randSuffix(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 6)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}

// micros converts a duration to whole microseconds, clamped to uint32
func micros(d time.Duration) uint32 {
	us := d.Microseconds()
	if us < 0 {
		return 0
	}
	if us > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(us)
}

// percentile picks the value at fraction p of ascending sorted samples
func percentile(sorted []uint32, p float64) uint32 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// writeCSV dumps one row per timed operation for offline analysis
func writeCSV(path string, results []threadResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "op,us")
	for i := range results {
		for _, s := range results[i].samples {
			op := "put"
			if s.op == 'g' {
				op = "get"
			}
			fmt.Fprintf(w, "%s,%d\n", op, s.us)
		}
	}
	return w.Flush()
}

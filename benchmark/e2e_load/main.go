// Roomwire E2E load benchmark.
//
// Answers the questions we actually care about in production:
// - What is the p50/p95/p99 message roundtrip latency under concurrent load?
// - How much allocation + GC work does that load generate?
//
// It runs the real reference chat server and drives N concurrent sessions
// that send real chat messages and wait for the server echo to reconcile
// the optimistic copy. The measured path is:
// client send → WS write → server broadcast → client read/decode → store apply
//
// Run:
//   cd benchmark/e2e_load
//   go run . -clients=200 -duration=30s -rps=5 -rooms=10
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomwire/roomwire/internal/chatserver"
	"github.com/roomwire/roomwire/pkg/client"
)

func main() {
	var (
		clients  = flag.Int("clients", 100, "number of concurrent chat sessions")
		duration = flag.Duration("duration", 15*time.Second, "how long to run the load test")
		rps      = flag.Float64("rps", 2, "target messages/sec per session (best-effort, response-gated)")
		rooms    = flag.Int("rooms", 4, "number of rooms the sessions are spread across")
	)
	flag.Parse()

	if *clients <= 0 {
		log.Fatal("-clients must be > 0")
	}
	if *duration <= 0 {
		log.Fatal("-duration must be > 0")
	}
	if *rooms <= 0 {
		log.Fatal("-rooms must be > 0")
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := chatserver.New(chatserver.Options{
		Logger:   quiet,
		Registry: prometheus.NewRegistry(),
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	httpSrv := &http.Server{Handler: srv.Handler()}
	go httpSrv.Serve(ln)
	defer httpSrv.Close()
	baseURL := "ws://" + ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		sent      atomic.Int64
		errs      atomic.Int64
	)

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			got, failed := runSession(ctx, quiet, baseURL, id, *rooms, *rps)
			mu.Lock()
			latencies = append(latencies, got...)
			mu.Unlock()
			sent.Add(int64(len(got)))
			errs.Add(failed)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("\nroomwire e2e load\n")
	fmt.Printf("  clients:   %d across %d rooms\n", *clients, *rooms)
	fmt.Printf("  elapsed:   %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  messages:  %d (%.1f/s)\n", sent.Load(), float64(sent.Load())/elapsed.Seconds())
	fmt.Printf("  errors:    %d\n", errs.Load())
	if len(latencies) > 0 {
		fmt.Printf("latency (send → confirmed)\n")
		fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
		fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
		fmt.Printf("  p99: %s\n", percentile(latencies, 0.99))
		fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	}
	fmt.Printf("memory\n")
	fmt.Printf("  alloc:     %.2f MB\n", float64(after.TotalAlloc-before.TotalAlloc)/(1024*1024))
	fmt.Printf("  heap_live: %.2f MB\n", float64(after.HeapAlloc)/(1024*1024))
	fmt.Printf("  gc_cycles: %d\n", after.NumGC-before.NumGC)
}

// runSession drives one chat session until the context expires, response-
// gating each message on its delivery confirmation.
func runSession(ctx context.Context, logger *slog.Logger, baseURL string, id, rooms int, rps float64) ([]time.Duration, int64) {
	cfg := client.DefaultConfig()
	cfg.ServerURL = baseURL
	cfg.Room = fmt.Sprintf("load-%d", id%rooms)
	cfg.Username = fmt.Sprintf("user-%d", id)
	cfg.Logger = logger

	s, err := client.New(cfg)
	if err != nil {
		return nil, 1
	}
	defer s.Close()
	s.Connect()

	confirmed := make(chan struct{}, 1)
	s.OnChange(func() {
		for _, m := range s.Store().Messages() {
			if m.Pending {
				return
			}
		}
		select {
		case confirmed <- struct{}{}:
		default:
		}
	})

	if !waitOpen(ctx, s) {
		return nil, 1
	}

	interval := time.Duration(float64(time.Second) / rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		latencies []time.Duration
		failures  int64
		seq       int
	)
	for {
		select {
		case <-ctx.Done():
			return latencies, failures
		case <-ticker.C:
		}

		seq++
		// Drop any confirmation signal raised by unrelated store changes.
		select {
		case <-confirmed:
		default:
		}
		sentAt := time.Now()
		if err := s.SendMessage(fmt.Sprintf("msg %d from %s", seq, cfg.Username)); err != nil {
			failures++
			continue
		}

		select {
		case <-confirmed:
			latencies = append(latencies, time.Since(sentAt))
		case <-ctx.Done():
			return latencies, failures
		case <-time.After(5 * time.Second):
			failures++
		}
	}
}

func waitOpen(ctx context.Context, s *client.Session) bool {
	for {
		if s.State() == client.StateOpen {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

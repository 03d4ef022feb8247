// Tracker load generator. Each worker registers a handful of filenames and
// then alternates REGISTER and GETPEERS requests against the tracker.
//
// Usage: go run ./benchmark --target localhost:9000 --duration 30s --concurrency 50

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fabricionaweb/pico-share/peer"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

const requestTimeout = 5 * time.Second

// LatencyStats stores latencies for one request type.
type LatencyStats struct {
	Latencies []time.Duration
	Mu        sync.Mutex
}

func (l *LatencyStats) Record(d time.Duration) {
	l.Mu.Lock()
	l.Latencies = append(l.Latencies, d)
	l.Mu.Unlock()
}

func (l *LatencyStats) sorted() []time.Duration {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	s := make([]time.Duration, len(l.Latencies))
	copy(s, l.Latencies)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

func (l *LatencyStats) Percentile(p float64) time.Duration {
	s := l.sorted()
	if len(s) == 0 {
		return 0
	}
	idx := int(float64(len(s)) * p / 100.0)
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

func (l *LatencyStats) Avg() time.Duration {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if len(l.Latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range l.Latencies {
		sum += d
	}
	return sum / time.Duration(len(l.Latencies))
}

func (l *LatencyStats) Count() int {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return len(l.Latencies)
}

type Stats struct {
	StartTime       time.Time
	RegisterLatency LatencyStats
	GetPeersLatency LatencyStats
	Successful      atomic.Uint64
	Failed          atomic.Uint64
	PeersReturned   atomic.Uint64
}

type Config struct {
	Target      string
	Duration    time.Duration
	Concurrency int
	Rate        float64 // requests per second per worker, 0 is unlimited
	Files       int     // filenames per worker
}

type Benchmark struct {
	Config Config
	Stats  Stats
}

func (b *Benchmark) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.Config.Duration)
	defer cancel()

	fmt.Printf("Starting benchmark...\n")
	fmt.Printf("Target: %s\n", b.Config.Target)
	fmt.Printf("Duration: %s\n", b.Config.Duration)
	fmt.Printf("Concurrency: %d\n", b.Config.Concurrency)
	fmt.Printf("Files per worker: %d\n\n", b.Config.Files)

	b.Stats.StartTime = time.Now()
	go b.reportProgress(ctx)

	var wg sync.WaitGroup
	for i := range b.Config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(ctx, i)
		}()
	}
	wg.Wait()
	b.printResults()
}

func (b *Benchmark) worker(ctx context.Context, id int) {
	client := &peer.TrackerClient{Addr: b.Config.Target, DialTimeout: requestTimeout, IOTimeout: requestTimeout}

	limit := rate.Inf
	if b.Config.Rate > 0 {
		limit = rate.Limit(b.Config.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	files := make([]string, b.Config.Files)
	for i := range files {
		files[i] = fmt.Sprintf("bench-%d-%d.bin", id, i)
	}
	port := 10000 + id%50000

	for n := 0; ; n++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		file := files[(n/2)%len(files)]

		start := time.Now()
		if n%2 == 0 {
			err := client.Register(ctx, file, port)
			b.Stats.RegisterLatency.Record(time.Since(start))
			b.count(ctx, err)
		} else {
			peers, err := client.GetPeers(ctx, file)
			b.Stats.GetPeersLatency.Record(time.Since(start))
			b.Stats.PeersReturned.Add(uint64(len(peers)))
			b.count(ctx, err)
		}
	}
}

func (b *Benchmark) count(ctx context.Context, err error) {
	switch {
	case err == nil:
		b.Stats.Successful.Add(1)
	case ctx.Err() == nil:
		b.Stats.Failed.Add(1)
	}
}

func (b *Benchmark) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(b.Stats.StartTime)
			ok, failed := b.Stats.Successful.Load(), b.Stats.Failed.Load()
			fmt.Printf("[%s] Total: %s | RPS: %.0f | Success: %d | Failed: %d\n",
				elapsed.Round(time.Second), humanize.Comma(int64(ok+failed)), //nolint:gosec // Request counts fit
				float64(ok+failed)/elapsed.Seconds(), ok, failed)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Benchmark) printResults() {
	elapsed := time.Since(b.Stats.StartTime)
	ok, failed := b.Stats.Successful.Load(), b.Stats.Failed.Load()
	total := ok + failed

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       BENCHMARK RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:           %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Concurrency:        %d workers\n\n", b.Config.Concurrency)

	fmt.Println("--- Request Statistics ---")
	fmt.Printf("Total Requests:     %d\n", total)
	if total > 0 {
		fmt.Printf("Successful:         %d (%.2f%%)\n", ok, float64(ok)/float64(total)*100)
		fmt.Printf("Failed:             %d (%.2f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("Requests/Second:    %.2f\n", float64(total)/elapsed.Seconds())
	fmt.Printf("Peers returned:     %s\n\n", humanize.Comma(int64(b.Stats.PeersReturned.Load()))) //nolint:gosec // Fits

	fmt.Println("--- Latency Statistics ---")
	printLatency := func(name string, lat *LatencyStats) {
		if lat.Count() == 0 {
			return
		}
		fmt.Printf("\n%s Latency (n=%d):\n", name, lat.Count())
		fmt.Printf("  Avg:  %s\n", lat.Avg())
		fmt.Printf("  P50:  %s\n", lat.Percentile(50))
		fmt.Printf("  P95:  %s\n", lat.Percentile(95))
		fmt.Printf("  P99:  %s\n", lat.Percentile(99))
		fmt.Printf("  Max:  %s\n", lat.Percentile(100))
	}
	printLatency("Register", &b.Stats.RegisterLatency)
	printLatency("GetPeers", &b.Stats.GetPeersLatency)
	fmt.Println()
}

func main() {
	var cfg Config
	fs := pflag.NewFlagSet("benchmark", pflag.ExitOnError)
	fs.StringVar(&cfg.Target, "target", "localhost:9000", "tracker address (host:port)")
	fs.DurationVar(&cfg.Duration, "duration", 30*time.Second, "benchmark duration")
	fs.IntVar(&cfg.Concurrency, "concurrency", 50, "number of concurrent workers")
	fs.Float64Var(&cfg.Rate, "rate", 0, "requests per second per worker, 0 is unlimited")
	fs.IntVar(&cfg.Files, "files", 5, "filenames registered per worker")
	//nolint:errcheck // ExitOnError
	_ = fs.Parse(os.Args[1:])

	if cfg.Concurrency < 1 || cfg.Files < 1 {
		fmt.Fprintln(os.Stderr, "concurrency and files must be at least 1")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	(&Benchmark{Config: cfg}).Run(ctx)
}

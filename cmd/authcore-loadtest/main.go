// Command authcore-loadtest measures refresh-token ledger throughput on
// Redis: token lookups, rotations, and a contention phase in which two
// clients present the same token at once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/ledger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type familyState struct {
	secret string
	mu     sync.Mutex
}

func main() {
	var (
		families    = flag.Int("families", 20000, "number of token families to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (lookup + rotate)")
		races       = flag.Int("races", 1000, "families used in the contention phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
	)
	flag.Parse()

	if *families <= 0 || *concurrency <= 0 || *ops <= 0 || *races < 0 {
		fmt.Fprintln(os.Stderr, "families, concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	led, err := ledger.New(ledger.NewRedisStore(client, *prefix+":"), ledger.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}

	states := make([]familyState, *families)
	fmt.Printf("seeding %d families...\n", *families)
	startSeed := time.Now()
	for i := range states {
		issued, err := led.Issue(ctx, fmt.Sprintf("user-%d", i%1000), "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].secret = issued.Secret
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		hash := ledger.HashToken(st.secret)
		st.mu.Unlock()
		_, err := led.Lookup(ctx, hash)
		return err
	})

	rotateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next, err := led.Rotate(ctx, ledger.HashToken(st.secret))
		if err != nil {
			return err
		}
		st.secret = next.Secret
		return nil
	})

	winners, reuses := runContention(ctx, led, states, *races)

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("rotate", rotateStats)
	fmt.Printf("contention: races=%d single_winner=%d reuse_detected=%d\n", *races, winners, reuses)
	if winners != *races {
		fmt.Fprintln(os.Stderr, "contention: a presented token was rotated more than once")
		os.Exit(1)
	}
}

// runPhase executes op ops times across concurrency workers.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runContention presents each of the first n tokens twice concurrently.
// Exactly one rotation per pair may succeed; the other must be reported
// as reuse.
func runContention(ctx context.Context, led *ledger.Ledger, states []familyState, n int) (winners, reuses int) {
	if n > len(states) {
		n = len(states)
	}
	for i := 0; i < n; i++ {
		hash := ledger.HashToken(states[i].secret)
		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = led.Rotate(ctx, hash)
			}(j)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrReuseDetected):
				reuses++
			}
		}
		if ok == 1 {
			winners++
		}
	}
	return winners, reuses
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/totp"
	"github.com/redis/go-redis/v9"
)

type principalState struct {
	id          string
	secret      string
	token       string
	backupCodes []string
	principal   *rbac.Principal
}

func main() {
	var (
		principals  = flag.Int("principals", 2000, "number of MFA-enrolled principals to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gtload", "redis key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
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
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goTrust.DefaultConfig()
	cfg.Token.SecretKey = "loadtest-signing-key-0123456789abcdef"
	cfg.Store.RedisPrefix = *prefix
	engine, err := goTrust.New().
		WithConfig(cfg).
		WithRedis(client).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	codes, err := totp.New(totp.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "totp engine: %v\n", err)
		os.Exit(1)
	}

	states := make([]principalState, *principals)
	fmt.Printf("seeding %d principals...\n", *principals)
	startSeed := time.Now()
	for i := 0; i < *principals; i++ {
		state, err := seedPrincipal(ctx, engine, codes, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = state
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	tokenStats := runPhase(states, *ops, *concurrency, 7919, func(s *principalState) error {
		_, err := engine.VerifyToken(ctx, s.token)
		return err
	})
	authorizeStats := runPhase(states, *ops, *concurrency, 6151, func(s *principalState) error {
		return engine.Authorize(ctx, s.principal, enforce.AnyOf(rbac.WriteProspects, rbac.ReadProspects))
	})
	mfaStats := runPhase(states, *ops, *concurrency, 4447, func(s *principalState) error {
		code, err := codes.CodeAt(s.secret, time.Now())
		if err != nil {
			return err
		}
		_, err = engine.VerifyMFA(ctx, s.id, code)
		return err
	})
	backupStats, wins := runBackupRace(ctx, engine, states, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify-token", tokenStats)
	printStats("authorize", authorizeStats)
	printStats("verify-mfa", mfaStats)
	printStats("backup-race", backupStats)

	expected := int64(len(states) * len(states[0].backupCodes))
	fmt.Printf("backup codes accepted=%d expected=%d\n", wins, expected)
	if wins != expected {
		fmt.Fprintln(os.Stderr, "backup code single-use violated")
		os.Exit(1)
	}
}

func seedPrincipal(ctx context.Context, engine *goTrust.Engine, codes *totp.Engine, i int) (principalState, error) {
	id := fmt.Sprintf("p-%d", i)
	setup, err := engine.EnableMFA(ctx, id, id+"@load.test")
	if err != nil {
		return principalState{}, err
	}
	code, err := codes.CodeAt(setup.Secret, time.Now())
	if err != nil {
		return principalState{}, err
	}
	if err := engine.ConfirmMFA(ctx, id, code); err != nil {
		return principalState{}, err
	}
	raw, _, err := engine.IssueToken(ctx, goTrust.VerifiedIdentity{PrincipalID: id, Email: id + "@load.test"})
	if err != nil {
		return principalState{}, err
	}
	roles := []string{rbac.RoleViewer, rbac.RoleOperator, rbac.RoleManager, rbac.RoleAdmin}
	return principalState{
		id:          id,
		secret:      setup.Secret,
		token:       raw,
		backupCodes: setup.BackupCodes,
		principal:   &rbac.Principal{ID: id, Role: roles[i%len(roles)], IsActive: true},
	}, nil
}

func runPhase(states []principalState, ops, concurrency int, seed int64, op func(*principalState) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				err := op(&states[idx])
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runBackupRace submits every backup code twice from competing workers. Each
// code must be accepted exactly once.
func runBackupRace(ctx context.Context, engine *goTrust.Engine, states []principalState, concurrency int) (phaseStats, int64) {
	type attempt struct {
		id   string
		code string
	}
	work := make(chan attempt, concurrency)
	var (
		wg        sync.WaitGroup
		wins      int64
		failures  int64
		latencies []time.Duration
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range work {
				t0 := time.Now()
				_, err := engine.VerifyMFA(ctx, a.id, a.code)
				d := time.Since(t0)
				if err == nil {
					atomic.AddInt64(&wins, 1)
				} else {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	for _, s := range states {
		for _, code := range s.backupCodes {
			work <- attempt{id: s.id, code: code}
			work <- attempt{id: s.id, code: code}
		}
	}
	close(work)
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures), wins
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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

// Package rpcpool schedules calls against a pool of Solana RPC endpoints.
//
// Endpoint selection is round-robin biased toward healthy endpoints, with
// a global rate budget: a refillable token reservoir, a concurrency cap,
// and a minimum inter-call spacing all apply to every outgoing call.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/BOBER3r/solex-betting-mcp/internal/retry"
)

// Config for the pool.
type Config struct {
	Endpoints []string

	// Token reservoir: Tokens refilled every RefillInterval.
	Tokens         int
	RefillInterval time.Duration

	// MaxConcurrent caps in-flight calls; MinSpacing is the minimum gap
	// between consecutive call starts.
	MaxConcurrent int
	MinSpacing    time.Duration

	// ProbeInterval is how often every endpoint's liveness is re-checked
	// regardless of call traffic.
	ProbeInterval time.Duration

	// RequestTimeout bounds a single RPC call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the standard rate budget.
func DefaultConfig(endpoints []string) Config {
	return Config{
		Endpoints:      endpoints,
		Tokens:         50,
		RefillInterval: time.Second,
		MaxConcurrent:  10,
		MinSpacing:     20 * time.Millisecond,
		ProbeInterval:  30 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// endpoint is one pool member. healthy is flipped by call outcomes and by
// the background prober.
type endpoint struct {
	url       string
	client    *rpc.Client
	healthy   bool
	lastProbe time.Time
}

// Pool round-robins calls across configured endpoints.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	cursor    int

	reservoir *rate.Limiter
	spacing   *rate.Limiter
	sem       chan struct{}

	// OnRPCError is invoked for every failed call (for monitoring).
	OnRPCError func()

	stop chan struct{}
	done chan struct{}
}

// New creates a pool over the configured endpoints. All endpoints start
// healthy; the prober and call outcomes adjust from there.
func New(cfg Config, logger *slog.Logger) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("rpcpool: no endpoints configured")
	}
	if cfg.Tokens <= 0 {
		cfg.Tokens = 50
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = 20 * time.Millisecond
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	eps := make([]*endpoint, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		eps = append(eps, &endpoint{
			url:     url,
			client:  rpc.New(url),
			healthy: true,
		})
	}

	refillEvery := cfg.RefillInterval / time.Duration(cfg.Tokens)

	return &Pool{
		cfg:       cfg,
		logger:    logger,
		endpoints: eps,
		reservoir: rate.NewLimiter(rate.Every(refillEvery), cfg.Tokens),
		spacing:   rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Schedule runs fn against the next endpoint, honoring the rate budget.
// Call failures matching a transient signature mark the endpoint
// unhealthy; successes mark it healthy.
func (p *Pool) Schedule(ctx context.Context, fn func(ctx context.Context, client *rpc.Client) error) error {
	if err := p.reservoir.Wait(ctx); err != nil {
		return err
	}
	if err := p.spacing.Wait(ctx); err != nil {
		return err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	ep := p.next()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	err := fn(callCtx, ep.client)
	p.recordOutcome(ep, err)

	if err != nil && p.OnRPCError != nil {
		p.OnRPCError()
	}
	return err
}

// ScheduleWithRetry wraps Schedule with exponential backoff across up to
// maxRetries attempts. Round-robin means each attempt may land on a
// different, healthier endpoint. Exhausting retries returns the last
// error; it never substitutes a default result.
func (p *Pool) ScheduleWithRetry(ctx context.Context, fn func(ctx context.Context, client *rpc.Client) error, maxRetries int, baseDelay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return retry.Do(ctx, maxRetries, baseDelay, func() error {
		return p.Schedule(ctx, fn)
	})
}

// next selects the endpoint for the next call. Round-robin among healthy
// endpoints; if none is healthy it still returns one so the pool degrades
// instead of deadlocking.
func (p *Pool) next() *endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		ep := p.endpoints[p.cursor%n]
		p.cursor++
		if ep.healthy {
			return ep
		}
	}

	ep := p.endpoints[p.cursor%n]
	p.cursor++
	return ep
}

func (p *Pool) recordOutcome(ep *endpoint, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case err == nil:
		ep.healthy = true
	case IsTransient(err):
		if ep.healthy {
			p.logger.Warn("rpc endpoint marked unhealthy", "endpoint", ep.url, "error", err)
		}
		ep.healthy = false
	}
}

// Start launches the background health prober.
func (p *Pool) Start(ctx context.Context) {
	go p.probeLoop(ctx)
}

// Stop stops the prober and waits for it to exit.
func (p *Pool) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Pool) probeLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll checks every endpoint's liveness via getHealth and updates the
// health map, independent of call traffic.
func (p *Pool) probeAll(ctx context.Context) {
	p.mu.Lock()
	eps := make([]*endpoint, len(p.endpoints))
	copy(eps, p.endpoints)
	p.mu.Unlock()

	for _, ep := range eps {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		out, err := ep.client.GetHealth(probeCtx)
		cancel()

		alive := err == nil && out == rpc.HealthOk

		p.mu.Lock()
		if ep.healthy != alive {
			p.logger.Info("rpc endpoint health changed", "endpoint", ep.url, "healthy", alive)
		}
		ep.healthy = alive
		ep.lastProbe = time.Now()
		p.mu.Unlock()
	}
}

// HealthSnapshot reports per-endpoint health, keyed by URL.
func (p *Pool) HealthSnapshot() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool, len(p.endpoints))
	for _, ep := range p.endpoints {
		out[ep.url] = ep.healthy
	}
	return out
}

// IsTransient reports whether err looks like a temporary RPC condition
// (rate limiting, timeouts, connectivity) worth retrying elsewhere.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"429",
		"too many requests",
		"rate limit",
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"service unavailable",
		"502",
		"503",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

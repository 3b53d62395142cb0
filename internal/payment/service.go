package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BOBER3r/solex-betting-mcp/internal/monitor"
	"github.com/BOBER3r/solex-betting-mcp/internal/pricing"
	"github.com/BOBER3r/solex-betting-mcp/internal/replay"
	"github.com/BOBER3r/solex-betting-mcp/internal/syncutil"
)

// ServiceConfig tunes the orchestrator.
type ServiceConfig struct {
	// VerifyTimeout is the hard budget for one verification, retries
	// included. Exhausting it yields VERIFICATION_TIMEOUT.
	VerifyTimeout time.Duration

	// CacheFailClosed controls what a replay-cache backend failure means.
	// Fail-open (default) treats read failures as "not cached" and write
	// failures as best-effort, preferring availability. Fail-closed turns
	// both into RPC_ERROR, preferring the replay guarantee.
	CacheFailClosed bool
}

// HealthStatus is the healthCheck report.
type HealthStatus struct {
	Status    string          `json:"status"`
	CacheOK   bool            `json:"cache_ok"`
	Endpoints map[string]bool `json:"endpoints"`
	Uptime    string          `json:"uptime"`
}

// Service is the single entry point tool dispatch uses for payments.
type Service struct {
	cache    replay.Store
	verifier TransferVerifier
	pricing  *pricing.Calculator
	monitor  *monitor.Monitor
	logger   *slog.Logger
	cfg      ServiceConfig

	// sigLocks serializes concurrent verifications of the same signature,
	// making the cache get/verify/set sequence atomic within this process.
	sigLocks *syncutil.KeyedMutex

	// endpointHealth reports per-endpoint RPC health for healthCheck;
	// optional.
	endpointHealth func() map[string]bool

	startedAt time.Time
}

// NewService wires the orchestrator from its owned collaborators.
func NewService(cache replay.Store, verifier TransferVerifier, calc *pricing.Calculator, mon *monitor.Monitor, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 60 * time.Second
	}
	return &Service{
		cache:     cache,
		verifier:  verifier,
		pricing:   calc,
		monitor:   mon,
		logger:    logger,
		cfg:       cfg,
		sigLocks:  syncutil.NewKeyedMutex(),
		startedAt: time.Now(),
	}
}

// SetEndpointHealth installs the RPC health snapshot source.
func (s *Service) SetEndpointHealth(fn func() map[string]bool) {
	s.endpointHealth = fn
}

// VerifyPayment runs the per-call state machine: syntax check, replay
// cache lookup, on-chain verification, cache write. It runs to completion
// synchronously; there are no intermediate persisted states.
//
// Racing calls with the same signature are serialized per-process by a
// keyed lock, so the cache get/verify/set sequence cannot interleave
// here. Known limitation: replicas sharing a Redis cache still race
// across processes; that window is accepted.
func (s *Service) VerifyPayment(ctx context.Context, signature string, expected decimal.Decimal, toolID string, params map[string]any) (*VerificationResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	result, cacheOutcome, err := s.verify(ctx, signature, expected, toolID, params)

	duration := time.Since(start)
	if err != nil {
		s.monitor.RecordVerification(false, duration, cacheOutcome, decimal.Zero, string(CodeOf(err)))
		s.logger.Info("payment rejected",
			"tool", toolID,
			"code", string(CodeOf(err)),
			"duration_ms", duration.Milliseconds(),
		)
		return nil, err
	}

	s.monitor.RecordVerification(true, duration, cacheOutcome, result.Amount, "")
	s.logger.Info("payment verified",
		"tool", toolID,
		"amount", result.Amount.String(),
		"cached", result.Cached,
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

// verify runs the state machine and reports what the replay cache lookup
// saw, so metrics attribute hits and misses to the call that made them.
func (s *Service) verify(ctx context.Context, signature string, expected decimal.Decimal, toolID string, params map[string]any) (*VerificationResult, monitor.CacheOutcome, error) {
	// Syntax first: malformed references fail cheaply, before any cache
	// or RPC traffic.
	if err := s.verifier.ValidateSignature(signature); err != nil {
		return nil, monitor.CacheSkipped, err
	}

	unlock, err := s.sigLocks.Lock(ctx, signature)
	if err != nil {
		return nil, monitor.CacheSkipped, s.classify(ctx, err)
	}
	defer unlock()

	// Replay cache lookup.
	entry, err := s.cache.Get(ctx, signature)
	switch {
	case err == nil:
		if entry.ToolID == toolID {
			// Same signature, same tool: idempotent success, no RPC.
			return &VerificationResult{
				Valid:  true,
				Cached: true,
				Amount: entry.Amount,
			}, monitor.CacheHit, nil
		}
		// Same signature bound to a different tool: replay.
		return nil, monitor.CacheHit, NewError(CodeReplayAttack,
			"this transaction was already used to pay for a different tool",
			"originalTool", entry.ToolID,
			"requestedTool", toolID,
			"verifiedAt", entry.VerifiedAt.UTC().Format(time.RFC3339),
			"hint", "each payment funds exactly one tool call; submit a new transfer")

	case errors.Is(err, replay.ErrNotFound):
		// Never verified; continue to full verification.

	default:
		if s.cfg.CacheFailClosed {
			return nil, monitor.CacheSkipped, NewError(CodeRPCError,
				"replay cache unavailable and fail-closed mode is active",
				"cause", err.Error())
		}
		s.logger.Warn("replay cache read failed, treating as uncached", "error", err)
	}

	// On-chain verification.
	transfer, err := s.verifier.Verify(ctx, signature, expected)
	if err != nil {
		return nil, monitor.CacheMiss, s.classify(ctx, err)
	}

	// Record the binding. Best-effort under fail-open.
	newEntry := &replay.Entry{
		ToolID:     toolID,
		Amount:     transfer.Amount,
		VerifiedAt: time.Now(),
		Verified:   true,
		Params:     params,
	}
	if err := s.cache.Set(ctx, signature, newEntry); err != nil {
		if s.cfg.CacheFailClosed {
			return nil, monitor.CacheMiss, NewError(CodeRPCError,
				"replay cache write failed and fail-closed mode is active",
				"cause", err.Error())
		}
		s.logger.Warn("replay cache write failed, continuing", "error", err)
	}

	return &VerificationResult{
		Valid:     true,
		Cached:    false,
		Amount:    transfer.Amount,
		Sender:    transfer.Sender,
		Recipient: transfer.Recipient,
		Timestamp: transfer.Timestamp,
	}, monitor.CacheMiss, nil
}

// classify maps verifier failures onto the taxonomy. Typed payment errors
// pass through; a blown deadline is VERIFICATION_TIMEOUT; everything else
// reaching this point, caller cancellation included, is an unclassified
// I/O failure, i.e. RPC_ERROR.
func (s *Service) classify(ctx context.Context, err error) error {
	if pe, ok := AsError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.monitor.RecordRPCError()
		return NewError(CodeVerificationTimeout,
			"verification did not complete within the time budget",
			"budget_seconds", int64(s.cfg.VerifyTimeout.Seconds()),
			"hint", "the network may be congested; retry with the same signature")
	}
	s.monitor.RecordRPCError()
	return NewError(CodeRPCError,
		"ledger RPC failure during verification",
		"cause", err.Error(),
		"hint", "retry with the same signature; the payment is not consumed by an RPC failure")
}

// GetPaymentRequirement computes what a tool call costs. It never fails:
// unknown tools fall back to the default price.
func (s *Service) GetPaymentRequirement(toolID string, params map[string]any) pricing.Requirement {
	return s.pricing.Requirement(toolID, params)
}

// HealthCheck reports cache reachability and RPC endpoint health.
func (s *Service) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:  "ok",
		CacheOK: true,
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}

	if _, err := s.cache.Stats(ctx); err != nil {
		status.CacheOK = false
		status.Status = "degraded"
	}

	if s.endpointHealth != nil {
		status.Endpoints = s.endpointHealth()
		anyHealthy := false
		for _, ok := range status.Endpoints {
			if ok {
				anyHealthy = true
				break
			}
		}
		if !anyHealthy {
			status.Status = "degraded"
		}
	}

	return status
}

package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BOBER3r/solex-betting-mcp/internal/monitor"
	"github.com/BOBER3r/solex-betting-mcp/internal/pricing"
	"github.com/BOBER3r/solex-betting-mcp/internal/replay"
)

type fakeVerifier struct {
	validateErr error
	transfer    *Transfer
	verifyErr   error
	calls       int
}

func (f *fakeVerifier) ValidateSignature(string) error { return f.validateErr }

func (f *fakeVerifier) Verify(ctx context.Context, signature string, expected decimal.Decimal) (*Transfer, error) {
	f.calls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.transfer, nil
}

// brokenStore fails every operation, for exercising fail-open/fail-closed.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*replay.Entry, error) {
	return nil, errors.New("backend down")
}
func (brokenStore) Set(context.Context, string, *replay.Entry) error {
	return errors.New("backend down")
}
func (brokenStore) Has(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}
func (brokenStore) Delete(context.Context, string) error { return errors.New("backend down") }
func (brokenStore) Stats(context.Context) (replay.Stats, error) {
	return replay.Stats{}, errors.New("backend down")
}

func goodTransfer(amount string) *Transfer {
	return &Transfer{
		Amount:    decimal.RequireFromString(amount),
		Sender:    "sender-wallet",
		Recipient: "recipient-wallet",
		Timestamp: time.Now(),
	}
}

func testService(t *testing.T, cache replay.Store, fv *fakeVerifier, cfg ServiceConfig) *Service {
	svc, _ := testServiceMon(t, cache, fv, cfg)
	return svc
}

func testServiceMon(t *testing.T, cache replay.Store, fv *fakeVerifier, cfg ServiceConfig) (*Service, *monitor.Monitor) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := monitor.New(monitor.Config{}, logger)
	calc := pricing.New(pricing.Config{
		Rules:        map[string]pricing.Rule{"analyze_market": pricing.Fixed("0.05", "Analysis")},
		DefaultPrice: decimal.New(1, -2),
	})
	return NewService(cache, fv, calc, mon, cfg, logger), mon
}

func TestVerifyPaymentHappyPath(t *testing.T) {
	ctx := context.Background()
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, cache, fv, ServiceConfig{})

	res, err := svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.Cached)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 1, fv.calls)

	// The binding was written.
	entry, err := cache.Get(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "analyze_market", entry.ToolID)
	assert.True(t, entry.Verified)
}

func TestVerifyPaymentCacheHitSameToolSkipsRPC(t *testing.T) {
	ctx := context.Background()
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, cache, fv, ServiceConfig{})

	_, err := svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)

	res, err := svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, fv.calls, "second call must not reach the chain")
}

func TestVerifyPaymentConcurrentSameSignatureVerifiesOnce(t *testing.T) {
	ctx := context.Background()
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, cache, fv, ServiceConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyPayment(ctx, "sig-race", decimal.RequireFromString("0.05"), "analyze_market", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fv.calls, "racing calls must serialize on the signature")
}

func TestVerifyPaymentCrossToolReplayRejected(t *testing.T) {
	ctx := context.Background()
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, cache, fv, ServiceConfig{})

	_, err := svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.02"), "get_odds", nil)
	require.Error(t, err)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeReplayAttack, pe.Code)
	assert.Equal(t, "analyze_market", pe.Details["originalTool"])
	assert.Equal(t, "get_odds", pe.Details["requestedTool"])
	assert.Equal(t, 1, fv.calls, "replay must be rejected before any RPC")
}

func TestVerifyPaymentMalformedSignatureNeverReachesChain(t *testing.T) {
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{
		validateErr: NewError(CodeInvalidSignature, "not a transaction signature"),
	}
	svc := testService(t, cache, fv, ServiceConfig{})

	_, err := svc.VerifyPayment(context.Background(), "garbage", decimal.Zero, "analyze_market", nil)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidSignature, CodeOf(err))
	assert.Equal(t, 0, fv.calls)
}

func TestVerifyPaymentTypedErrorsPassThrough(t *testing.T) {
	for _, code := range []Code{
		CodeTransactionNotFound,
		CodeExpiredPayment,
		CodeWrongToken,
		CodeInsufficientAmount,
		CodeWrongRecipient,
	} {
		cache := replay.NewMemoryStore(time.Hour)
		fv := &fakeVerifier{verifyErr: NewError(code, "rejected")}
		svc := testService(t, cache, fv, ServiceConfig{})

		_, err := svc.VerifyPayment(context.Background(), "sig-x", decimal.Zero, "analyze_market", nil)
		require.Error(t, err)
		assert.Equal(t, code, CodeOf(err))

		// Failed verifications must not consume the signature.
		_, err = cache.Get(context.Background(), "sig-x")
		assert.ErrorIs(t, err, replay.ErrNotFound, "code %s wrote a binding", code)
	}
}

func TestVerifyPaymentUnclassifiedErrorBecomesRPCError(t *testing.T) {
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{verifyErr: errors.New("connection reset by peer")}
	svc := testService(t, cache, fv, ServiceConfig{})

	_, err := svc.VerifyPayment(context.Background(), "sig-x", decimal.Zero, "analyze_market", nil)
	require.Error(t, err)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeRPCError, pe.Code)
	assert.Contains(t, pe.Details["cause"], "connection reset")
}

func TestVerifyPaymentDeadlineBecomesTimeout(t *testing.T) {
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{verifyErr: context.DeadlineExceeded}
	svc := testService(t, cache, fv, ServiceConfig{VerifyTimeout: 5 * time.Second})

	_, err := svc.VerifyPayment(context.Background(), "sig-x", decimal.Zero, "analyze_market", nil)
	require.Error(t, err)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeVerificationTimeout, pe.Code)
	assert.Equal(t, int64(5), pe.Details["budget_seconds"])
}

func TestVerifyPaymentCallerCancellationIsNotTimeout(t *testing.T) {
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{verifyErr: context.Canceled}
	svc := testService(t, cache, fv, ServiceConfig{VerifyTimeout: 5 * time.Second})

	_, err := svc.VerifyPayment(context.Background(), "sig-x", decimal.Zero, "analyze_market", nil)
	require.Error(t, err)
	assert.Equal(t, CodeRPCError, CodeOf(err),
		"cancellation is not a blown verification budget")
}

func TestVerificationMetricsTrackCacheOutcome(t *testing.T) {
	ctx := context.Background()
	cache := replay.NewMemoryStore(time.Hour)
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc, mon := testServiceMon(t, cache, fv, ServiceConfig{})

	// First verification misses; the cross-tool replay is detected via a
	// hit and must be counted as one.
	_, err := svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)
	_, err = svc.VerifyPayment(ctx, "sig-1", decimal.RequireFromString("0.02"), "get_odds", nil)
	require.Error(t, err)

	got := mon.GetMetrics()
	assert.Equal(t, int64(1), got.CacheHits)
	assert.Equal(t, int64(1), got.CacheMisses)

	// A malformed reference never consults the cache; neither counter moves.
	fv2 := &fakeVerifier{validateErr: NewError(CodeInvalidSignature, "not a transaction signature")}
	svc2, mon2 := testServiceMon(t, replay.NewMemoryStore(time.Hour), fv2, ServiceConfig{})

	_, err = svc2.VerifyPayment(ctx, "garbage", decimal.Zero, "analyze_market", nil)
	require.Error(t, err)

	got = mon2.GetMetrics()
	assert.Equal(t, int64(1), got.Total)
	assert.Equal(t, int64(0), got.CacheHits)
	assert.Equal(t, int64(0), got.CacheMisses)
}

func TestVerifyPaymentFailOpenOnCacheOutage(t *testing.T) {
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, brokenStore{}, fv, ServiceConfig{})

	// Cache down, fail-open: verification proceeds on-chain and succeeds.
	res, err := svc.VerifyPayment(context.Background(), "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, fv.calls)
}

func TestVerifyPaymentFailClosedOnCacheOutage(t *testing.T) {
	fv := &fakeVerifier{transfer: goodTransfer("0.05")}
	svc := testService(t, brokenStore{}, fv, ServiceConfig{CacheFailClosed: true})

	_, err := svc.VerifyPayment(context.Background(), "sig-1", decimal.RequireFromString("0.05"), "analyze_market", nil)
	require.Error(t, err)
	assert.Equal(t, CodeRPCError, CodeOf(err))
	assert.Equal(t, 0, fv.calls, "fail-closed must not verify without the replay guarantee")
}

func TestGetPaymentRequirementNeverFails(t *testing.T) {
	svc := testService(t, replay.NewMemoryStore(time.Hour), &fakeVerifier{}, ServiceConfig{})

	r := svc.GetPaymentRequirement("analyze_market", nil)
	assert.Equal(t, "0.050000", pricing.FormatUSDC(r.Amount))

	r = svc.GetPaymentRequirement("tool_nobody_registered", nil)
	assert.Equal(t, "0.010000", pricing.FormatUSDC(r.Amount))
}

func TestHealthCheck(t *testing.T) {
	svc := testService(t, replay.NewMemoryStore(time.Hour), &fakeVerifier{}, ServiceConfig{})
	svc.SetEndpointHealth(func() map[string]bool {
		return map[string]bool{"http://a": true, "http://b": false}
	})

	status := svc.HealthCheck(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.True(t, status.CacheOK)
	assert.True(t, status.Endpoints["http://a"])

	// Cache outage degrades the report.
	svc = testService(t, brokenStore{}, &fakeVerifier{}, ServiceConfig{})
	status = svc.HealthCheck(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.False(t, status.CacheOK)

	// All endpoints down degrades too.
	svc = testService(t, replay.NewMemoryStore(time.Hour), &fakeVerifier{}, ServiceConfig{})
	svc.SetEndpointHealth(func() map[string]bool {
		return map[string]bool{"http://a": false}
	})
	status = svc.HealthCheck(context.Background())
	assert.Equal(t, "degraded", status.Status)
}

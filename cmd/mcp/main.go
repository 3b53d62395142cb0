// Solex betting MCP server - pay-per-call betting tools for AI agents,
// settled in USDC on Solana.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/shopspring/decimal"

	"github.com/BOBER3r/solex-betting-mcp/internal/betting"
	"github.com/BOBER3r/solex-betting-mcp/internal/config"
	"github.com/BOBER3r/solex-betting-mcp/internal/logging"
	"github.com/BOBER3r/solex-betting-mcp/internal/mcpserver"
	"github.com/BOBER3r/solex-betting-mcp/internal/monitor"
	"github.com/BOBER3r/solex-betting-mcp/internal/payment"
	"github.com/BOBER3r/solex-betting-mcp/internal/pricing"
	"github.com/BOBER3r/solex-betting-mcp/internal/replay"
	"github.com/BOBER3r/solex-betting-mcp/internal/rpcpool"
	"github.com/BOBER3r/solex-betting-mcp/internal/verifier"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "solex-betting-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// Replay cache: backend chosen at construction, invisible to callers.
	var cache replay.Store
	switch cfg.CacheBackend {
	case "redis":
		redisStore, err := replay.NewRedisStore(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("redis replay cache: %w", err)
		}
		defer redisStore.Close()
		cache = redisStore
	default:
		cache = replay.NewMemoryStore(cfg.CacheTTL)
	}

	mon := monitor.New(monitor.Config{
		FailureRateThreshold: cfg.AlertFailureRate,
		RPCErrorThreshold:    cfg.AlertRPCErrors,
	}, logger)

	poolCfg := rpcpool.DefaultConfig(cfg.RPCEndpoints)
	poolCfg.Tokens = cfg.RateTokens
	poolCfg.RefillInterval = cfg.RateRefill
	poolCfg.MaxConcurrent = cfg.MaxConcurrent
	poolCfg.MinSpacing = cfg.MinSpacing
	poolCfg.ProbeInterval = cfg.ProbeInterval
	poolCfg.RequestTimeout = cfg.VerifyTimeout

	pool, err := rpcpool.New(poolCfg, logger)
	if err != nil {
		return err
	}
	pool.OnRPCError = mon.RecordRPCError
	pool.Start(ctx)
	defer pool.Stop()

	xfer, err := verifier.New(pool, verifier.Config{
		Recipient:      cfg.RecipientWallet,
		Mint:           cfg.USDCMint,
		MaxTxAge:       cfg.MaxTxAge,
		RetryMax:       cfg.RetryMax,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, logger)
	if err != nil {
		return err
	}

	calc := pricing.New(pricing.Config{
		Rules:        mcpserver.PriceRules(),
		DefaultPrice: decimal.New(1, -2),
		Recipient:    cfg.RecipientWallet,
		Mint:         cfg.USDCMint,
		Network:      cfg.Network,
	})

	payments := payment.NewService(cache, xfer, calc, mon, payment.ServiceConfig{
		VerifyTimeout:   cfg.VerifyTimeout,
		CacheFailClosed: cfg.CacheFailClosed,
	}, logger)
	payments.SetEndpointHealth(pool.HealthSnapshot)

	engine := betting.NewEngine()

	logger.Info("starting solex betting MCP server",
		"network", cfg.Network,
		"endpoints", len(cfg.RPCEndpoints),
		"cache_backend", cfg.CacheBackend,
	)

	s := mcpserver.NewMCPServer(payments, engine, mon, logger)
	return server.ServeStdio(s)
}

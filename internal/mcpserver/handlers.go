package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BOBER3r/solex-betting-mcp/internal/betting"
	"github.com/BOBER3r/solex-betting-mcp/internal/monitor"
	"github.com/BOBER3r/solex-betting-mcp/internal/payment"
	"github.com/BOBER3r/solex-betting-mcp/internal/pricing"
)

// exampleSignature is a syntactically valid base58 signature shown to
// callers in PAYMENT_REQUIRED envelopes so they know the expected shape.
const exampleSignature = "MASi45ub7Qe4ZE36UT5G6cU4ud8Fhhe4deS4F3cw9KTAb8dLcukC7edhDQ7cn5d4gEYkbUrMWeWQLGsCmrG6dLaY"

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	payments *payment.Service
	engine   *betting.Engine
	monitor  *monitor.Monitor
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(payments *payment.Service, engine *betting.Engine, mon *monitor.Monitor, logger *slog.Logger) *Handlers {
	return &Handlers{payments: payments, engine: engine, monitor: mon, logger: logger}
}

// paymentEnvelope is folded into every paid tool's successful result.
type paymentEnvelope struct {
	Verified  bool   `json:"verified"`
	Cached    bool   `json:"cached"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

// errorEnvelope is the structured failure contract: machine-readable
// code, human message, and details rich enough for an agent to
// self-correct without a human interpreting the failure.
type errorEnvelope struct {
	Error struct {
		Code    payment.Code   `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

func envelopeFor(err error) *mcp.CallToolResult {
	pe, ok := payment.AsError(err)
	if !ok {
		pe = payment.NewError(payment.CodeToolExecutionError, err.Error())
	}
	var env errorEnvelope
	env.Error.Code = pe.Code
	env.Error.Message = pe.Message
	env.Error.Details = pe.Details

	raw, marshalErr := json.MarshalIndent(env, "", "  ")
	if marshalErr != nil {
		return mcp.NewToolResultError(pe.Error())
	}
	return mcp.NewToolResultError(string(raw))
}

// gated runs a paid tool body behind payment verification. A missing
// payment_signature yields PAYMENT_REQUIRED with the full requirement;
// any verification failure yields its typed envelope; only a verified
// payment reaches the body.
func (h *Handlers) gated(ctx context.Context, req mcp.CallToolRequest, toolID string, body func() (any, error)) (result *mcp.CallToolResult, err error) {
	// Last-resort conversion of programming defects into a structured
	// envelope; classified failures never reach this path.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("tool handler panic", "tool", toolID, "panic", r)
			result = envelopeFor(payment.NewError(payment.CodeToolExecutionError,
				fmt.Sprintf("internal error executing %s", toolID)))
			err = nil
		}
	}()

	params := req.GetArguments()

	signature := req.GetString("payment_signature", "")
	if signature == "" {
		return h.paymentRequired(toolID, params), nil
	}

	requirement := h.payments.GetPaymentRequirement(toolID, params)

	verification, verr := h.payments.VerifyPayment(ctx, signature, requirement.Amount, toolID, params)
	if verr != nil {
		return envelopeFor(verr), nil
	}

	out, berr := body()
	if berr != nil {
		return envelopeFor(payment.NewError(payment.CodeToolExecutionError, berr.Error())), nil
	}

	payload := map[string]any{
		"payment": paymentEnvelope{
			Verified:  true,
			Cached:    verification.Cached,
			Amount:    pricing.FormatUSDC(verification.Amount),
			Signature: signature,
		},
		"result": out,
	}
	return jsonResult(payload), nil
}

// paymentRequired builds the PAYMENT_REQUIRED envelope: the full
// requirement plus a literal instruction sequence an agent can follow.
func (h *Handlers) paymentRequired(toolID string, params map[string]any) *mcp.CallToolResult {
	requirement := h.payments.GetPaymentRequirement(toolID, params)

	pe := payment.NewError(payment.CodePaymentRequired,
		fmt.Sprintf("payment of %s USDC is required before %s runs", pricing.FormatUSDC(requirement.Amount), toolID),
		"requirement", requirement,
		"instructions", []string{
			fmt.Sprintf("1. Transfer %s USDC (mint %s) on Solana %s to %s",
				pricing.FormatUSDC(requirement.Amount), requirement.Mint, requirement.Network, requirement.Recipient),
			"2. Wait for the transaction to reach confirmed commitment",
			"3. Call this tool again with the same arguments plus payment_signature set to the transfer's base58 signature",
		},
		"example_signature", exampleSignature,
	)
	return envelopeFor(pe)
}

// HandleListMarkets lists open markets, optionally by category. Free.
func (h *Handlers) HandleListMarkets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")

	var out []betting.Market
	for _, m := range h.engine.Markets() {
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	return jsonResult(map[string]any{"markets": out}), nil
}

// HandleGetPaymentInfo prices a prospective tool call. Free, never fails.
func (h *Handlers) HandleGetPaymentInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool := req.GetString("tool", "")
	if tool == "" {
		return mcp.NewToolResultError("tool is required"), nil
	}

	var params map[string]any
	if raw := req.GetArguments()["params"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			params = m
		}
	}

	requirement := h.payments.GetPaymentRequirement(tool, params)
	return jsonResult(map[string]any{
		"tool":        tool,
		"requirement": requirement,
		"amount":      pricing.FormatUSDC(requirement.Amount),
	}), nil
}

// HandleAnalyzeMarket is the paid market analysis tool.
func (h *Handlers) HandleAnalyzeMarket(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	marketID := req.GetString("market_id", "")
	if marketID == "" {
		return mcp.NewToolResultError("market_id is required"), nil
	}
	return h.gated(ctx, req, "analyze_market", func() (any, error) {
		return h.engine.Analyze(marketID)
	})
}

// HandleGetOdds is the paid odds quote tool.
func (h *Handlers) HandleGetOdds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	marketID := req.GetString("market_id", "")
	if marketID == "" {
		return mcp.NewToolResultError("market_id is required"), nil
	}
	return h.gated(ctx, req, "get_odds", func() (any, error) {
		return h.engine.Odds(marketID)
	})
}

// HandleExecuteBet is the paid bet placement tool.
func (h *Handlers) HandleExecuteBet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	marketID := req.GetString("market_id", "")
	outcome := req.GetString("outcome", "")
	stake := req.GetFloat("amount", 0)
	if marketID == "" || outcome == "" {
		return mcp.NewToolResultError("market_id and outcome are required"), nil
	}
	if stake <= 0 {
		return mcp.NewToolResultError("amount must be a positive stake in USDC"), nil
	}
	return h.gated(ctx, req, "execute_bet", func() (any, error) {
		return h.engine.PlaceBet(marketID, outcome, stake)
	})
}

// HandleSimulateBetOutcome is the paid Monte Carlo tool.
func (h *Handlers) HandleSimulateBetOutcome(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	marketID := req.GetString("market_id", "")
	outcome := req.GetString("outcome", "")
	iterations := int(req.GetFloat("iterations", 100))
	if marketID == "" || outcome == "" {
		return mcp.NewToolResultError("market_id and outcome are required"), nil
	}
	return h.gated(ctx, req, "simulate_bet_outcome", func() (any, error) {
		return h.engine.Simulate(marketID, outcome, iterations)
	})
}

// HandleGetMetrics exports the monitor's counters. Free operator surface.
func (h *Handlers) HandleGetMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	windowSecs := req.GetFloat("window_seconds", 300)

	text, err := h.monitor.ExportMetricsText()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to export metrics: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"counters":   h.monitor.GetMetrics(),
		"windowed":   h.monitor.GetWindowedMetrics(time.Duration(windowSecs) * time.Second),
		"prometheus": text,
	}), nil
}

// HandleServiceHealth reports payment service health. Free.
func (h *Handlers) HandleServiceHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.payments.HealthCheck(ctx)), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(raw))
}

package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the solex betting MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

// Paid tools accept a payment_signature parameter: the base58 signature
// of a USDC transfer to the service wallet. Calling without it returns a
// PAYMENT_REQUIRED envelope describing exactly what to pay.

var ToolListMarkets = mcp.NewTool("list_markets",
	mcp.WithDescription(
		"List open betting markets with outcomes, categories, and closing times. "+
			"Free to call. Use this to find a market id before paying for analysis or bets."),
	mcp.WithString("category",
		mcp.Description("Filter by category (e.g. 'basketball', 'soccer', 'mma')")),
)

var ToolGetPaymentInfo = mcp.NewTool("get_payment_info",
	mcp.WithDescription(
		"Get the payment requirement for a tool: price in USDC, recipient wallet, token mint, "+
			"and network. Free to call. Use this before paying so you transfer the exact amount."),
	mcp.WithString("tool",
		mcp.Required(),
		mcp.Description("Tool name to price (e.g. 'analyze_market', 'execute_bet')")),
	mcp.WithObject("params",
		mcp.Description("The parameters you intend to call the tool with; affects percentage and tiered pricing")),
)

var ToolAnalyzeMarket = mcp.NewTool("analyze_market",
	mcp.WithDescription(
		"Paid ($0.05 USDC). Analyze a betting market: sentiment, confidence, implied odds per outcome, "+
			"and a recommendation. Requires payment_signature proving a USDC transfer."),
	mcp.WithString("market_id",
		mcp.Required(),
		mcp.Description("Market id from list_markets (e.g. 'nba-lal-bos')")),
	mcp.WithString("payment_signature",
		mcp.Description("Base58 Solana transaction signature of your USDC payment")),
)

var ToolGetOdds = mcp.NewTool("get_odds",
	mcp.WithDescription(
		"Paid ($0.02 USDC). Quote current decimal odds for every outcome of a market. "+
			"Requires payment_signature proving a USDC transfer."),
	mcp.WithString("market_id",
		mcp.Required(),
		mcp.Description("Market id from list_markets")),
	mcp.WithString("payment_signature",
		mcp.Description("Base58 Solana transaction signature of your USDC payment")),
)

var ToolExecuteBet = mcp.NewTool("execute_bet",
	mcp.WithDescription(
		"Paid (0.10 USDC + 2% of stake, min 0.10, max 50). Place a simulated bet on a market outcome. "+
			"Requires payment_signature proving a USDC transfer covering the fee."),
	mcp.WithString("market_id",
		mcp.Required(),
		mcp.Description("Market id from list_markets")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("Outcome code to back (e.g. 'LAL')")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Stake in USDC; the service fee is 2% of this")),
	mcp.WithString("payment_signature",
		mcp.Description("Base58 Solana transaction signature of your USDC payment")),
)

var ToolSimulateBetOutcome = mcp.NewTool("simulate_bet_outcome",
	mcp.WithDescription(
		"Paid (tiered by iterations: up to 100 -> $0.01, up to 1000 -> $0.05, above -> $0.25). "+
			"Monte Carlo simulation of an outcome's win rate and expected value. "+
			"Requires payment_signature proving a USDC transfer."),
	mcp.WithString("market_id",
		mcp.Required(),
		mcp.Description("Market id from list_markets")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("Outcome code to simulate")),
	mcp.WithNumber("iterations",
		mcp.Description("Simulation iterations (default 100); price tier depends on this")),
	mcp.WithString("payment_signature",
		mcp.Description("Base58 Solana transaction signature of your USDC payment")),
)

var ToolGetMetrics = mcp.NewTool("get_metrics",
	mcp.WithDescription(
		"Operator tool, free. Export verification metrics: counters in Prometheus text format "+
			"plus a windowed summary of recent verifications."),
	mcp.WithNumber("window_seconds",
		mcp.Description("Trailing window for the summary (default 300)")),
)

var ToolServiceHealth = mcp.NewTool("service_health",
	mcp.WithDescription(
		"Operator tool, free. Report payment service health: replay cache reachability "+
			"and per-RPC-endpoint liveness."),
)

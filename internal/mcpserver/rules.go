package mcpserver

import "github.com/BOBER3r/solex-betting-mcp/internal/pricing"

// PriceRules maps every paid tool to its pricing rule. Free tools are
// simply absent; unknown tools get the calculator's default price, so
// pricing never blocks tool discovery.
func PriceRules() map[string]pricing.Rule {
	return map[string]pricing.Rule{
		"analyze_market": pricing.Fixed("0.05",
			"Market analysis: sentiment, implied odds, recommendation"),
		"get_odds": pricing.Fixed("0.02",
			"Decimal odds quote for one market"),
		"execute_bet": pricing.Percentage("0.10", "0.02", "amount", "0.10", "50",
			"Bet placement fee: 0.10 USDC + 2% of stake"),
		"simulate_bet_outcome": pricing.Tiered("iterations", []pricing.Tier{
			pricing.TierOf("100", "0.01"),
			pricing.TierOf("1000", "0.05"),
			pricing.TierOf("1000000", "0.25"),
		}, "Monte Carlo simulation, priced by iteration count"),
	}
}

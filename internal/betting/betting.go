// Package betting holds the simulated market engine behind the paid
// tools. Everything here is an in-memory stub: no odds feed, no
// sportsbook integration, no real money at stake. The payment layer in
// front of it is the real product.
package betting

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/BOBER3r/solex-betting-mcp/internal/idgen"
)

// Market is one bettable event.
type Market struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Outcomes  []string  `json:"outcomes"`
	ClosesAt  time.Time `json:"closes_at"`
	Liquidity float64   `json:"liquidity"`
}

// Analysis summarizes a market for a paying caller.
type Analysis struct {
	MarketID       string             `json:"market_id"`
	Sentiment      string             `json:"sentiment"`
	Confidence     float64            `json:"confidence"`
	ImpliedOdds    map[string]float64 `json:"implied_odds"`
	Recommendation string             `json:"recommendation"`
}

// Odds quotes decimal odds per outcome.
type Odds struct {
	MarketID string             `json:"market_id"`
	Decimal  map[string]float64 `json:"decimal_odds"`
	QuotedAt time.Time          `json:"quoted_at"`
}

// BetReceipt confirms a simulated bet placement.
type BetReceipt struct {
	BetID    string  `json:"bet_id"`
	MarketID string  `json:"market_id"`
	Outcome  string  `json:"outcome"`
	Stake    float64 `json:"stake"`
	Odds     float64 `json:"odds"`
	Payout   float64 `json:"potential_payout"`
	PlacedAt string  `json:"placed_at"`
}

// SimResult is a Monte Carlo outcome summary.
type SimResult struct {
	MarketID   string  `json:"market_id"`
	Outcome    string  `json:"outcome"`
	Iterations int     `json:"iterations"`
	WinRate    float64 `json:"win_rate"`
	EV         float64 `json:"expected_value"`
}

// Engine serves simulated markets. Market data is deterministic per id so
// repeated calls agree; randomness only enters simulations.
type Engine struct {
	markets []Market
}

// NewEngine seeds a fixed market list.
func NewEngine() *Engine {
	now := time.Now()
	return &Engine{markets: []Market{
		{ID: "nba-lal-bos", Name: "Lakers vs Celtics", Category: "basketball", Outcomes: []string{"LAL", "BOS"}, ClosesAt: now.Add(6 * time.Hour), Liquidity: 125000},
		{ID: "epl-ars-liv", Name: "Arsenal vs Liverpool", Category: "soccer", Outcomes: []string{"ARS", "DRAW", "LIV"}, ClosesAt: now.Add(24 * time.Hour), Liquidity: 310000},
		{ID: "mlb-nyy-hou", Name: "Yankees vs Astros", Category: "baseball", Outcomes: []string{"NYY", "HOU"}, ClosesAt: now.Add(3 * time.Hour), Liquidity: 87000},
		{ID: "ufc-main-305", Name: "UFC 305 Main Event", Category: "mma", Outcomes: []string{"FIGHTER_A", "FIGHTER_B"}, ClosesAt: now.Add(48 * time.Hour), Liquidity: 54000},
	}}
}

// Markets lists all open markets.
func (e *Engine) Markets() []Market {
	return e.markets
}

// Market finds a market by id.
func (e *Engine) Market(id string) (*Market, error) {
	for i := range e.markets {
		if e.markets[i].ID == id {
			return &e.markets[i], nil
		}
	}
	return nil, fmt.Errorf("unknown market %q", id)
}

// Analyze produces a deterministic pseudo-analysis for a market.
func (e *Engine) Analyze(marketID string) (*Analysis, error) {
	m, err := e.Market(marketID)
	if err != nil {
		return nil, err
	}

	rng := seededRand(marketID)
	implied := make(map[string]float64, len(m.Outcomes))
	remaining := 1.0
	for i, o := range m.Outcomes {
		if i == len(m.Outcomes)-1 {
			implied[o] = round4(remaining)
			break
		}
		p := round4(remaining * (0.35 + rng.Float64()*0.3))
		implied[o] = p
		remaining -= p
	}

	sentiment := "neutral"
	confidence := 0.5 + rng.Float64()*0.4
	if confidence > 0.75 {
		sentiment = "strong"
	}

	return &Analysis{
		MarketID:       marketID,
		Sentiment:      sentiment,
		Confidence:     round4(confidence),
		ImpliedOdds:    implied,
		Recommendation: m.Outcomes[0],
	}, nil
}

// Odds quotes decimal odds derived from the implied probabilities with a
// flat 5% margin.
func (e *Engine) Odds(marketID string) (*Odds, error) {
	analysis, err := e.Analyze(marketID)
	if err != nil {
		return nil, err
	}

	quotes := make(map[string]float64, len(analysis.ImpliedOdds))
	for outcome, p := range analysis.ImpliedOdds {
		if p <= 0 {
			p = 0.01
		}
		quotes[outcome] = round4(0.95 / p)
	}

	return &Odds{
		MarketID: marketID,
		Decimal:  quotes,
		QuotedAt: time.Now(),
	}, nil
}

// PlaceBet records a simulated bet and returns its receipt.
func (e *Engine) PlaceBet(marketID, outcome string, stake float64) (*BetReceipt, error) {
	odds, err := e.Odds(marketID)
	if err != nil {
		return nil, err
	}
	quote, ok := odds.Decimal[outcome]
	if !ok {
		return nil, fmt.Errorf("market %q has no outcome %q", marketID, outcome)
	}
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %v", stake)
	}

	return &BetReceipt{
		BetID:    idgen.WithPrefix("bet_"),
		MarketID: marketID,
		Outcome:  outcome,
		Stake:    stake,
		Odds:     quote,
		Payout:   round4(stake * quote),
		PlacedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Simulate runs a Monte Carlo estimate of an outcome's win rate.
func (e *Engine) Simulate(marketID, outcome string, iterations int) (*SimResult, error) {
	analysis, err := e.Analyze(marketID)
	if err != nil {
		return nil, err
	}
	p, ok := analysis.ImpliedOdds[outcome]
	if !ok {
		return nil, fmt.Errorf("market %q has no outcome %q", marketID, outcome)
	}
	if iterations <= 0 {
		iterations = 100
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wins := 0
	for i := 0; i < iterations; i++ {
		if rng.Float64() < p {
			wins++
		}
	}
	winRate := float64(wins) / float64(iterations)

	odds, _ := e.Odds(marketID)
	quote := odds.Decimal[outcome]

	return &SimResult{
		MarketID:   marketID,
		Outcome:    outcome,
		Iterations: iterations,
		WinRate:    round4(winRate),
		EV:         round4(winRate*quote - 1),
	}, nil
}

// seededRand derives a stable RNG from a market id.
func seededRand(key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// Package pricing computes the USDC price of a tool call.
//
// Prices are pure functions of the tool id and call parameters: no I/O,
// no clock, no state. Every returned amount is quantized exactly once to
// USDC's six decimal places so repeated calls with identical inputs are
// bit-identical.
package pricing

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimal places of the payment asset.
const USDCDecimals = 6

// RuleKind selects how a rule derives its amount.
type RuleKind string

const (
	KindFixed      RuleKind = "fixed"
	KindPercentage RuleKind = "percentage"
	KindTiered     RuleKind = "tiered"
)

// Tier maps a parameter threshold to a price. Tiers are evaluated in
// ascending threshold order; the first tier whose threshold is >= the
// parameter value wins.
type Tier struct {
	Threshold decimal.Decimal
	Amount    decimal.Decimal
}

// Rule describes the price of one tool.
type Rule struct {
	Kind RuleKind

	// Fixed
	Amount decimal.Decimal

	// Percentage: Base + Rate * params[ParamField], clamped to [Min, Max]
	// when the clamps are non-zero.
	Base       decimal.Decimal
	Rate       decimal.Decimal
	ParamField string
	Min        decimal.Decimal
	Max        decimal.Decimal

	// Tiered: selected by comparing params[ParamField] against Tiers.
	// The last tier acts as the catch-all for values above every threshold.
	Tiers []Tier

	Description string
}

// Requirement describes the payment a caller must make before a tool runs.
type Requirement struct {
	Amount      decimal.Decimal `json:"amount"`
	Recipient   string          `json:"recipient"`
	Mint        string          `json:"mint"`
	Network     string          `json:"network"`
	Description string          `json:"description"`
}

// Calculator computes prices from a static rule table.
type Calculator struct {
	rules        map[string]Rule
	defaultPrice decimal.Decimal

	recipient string
	mint      string
	network   string
}

// Config for the calculator. DefaultPrice applies to unknown tool ids so
// pricing never blocks tool discovery.
type Config struct {
	Rules        map[string]Rule
	DefaultPrice decimal.Decimal
	Recipient    string
	Mint         string
	Network      string
}

// New creates a price calculator.
func New(cfg Config) *Calculator {
	if cfg.DefaultPrice.IsZero() {
		cfg.DefaultPrice = decimal.New(1, -2) // 0.01 USDC floor
	}
	return &Calculator{
		rules:        cfg.Rules,
		defaultPrice: cfg.DefaultPrice,
		recipient:    cfg.Recipient,
		mint:         cfg.Mint,
		network:      cfg.Network,
	}
}

// Price returns the quantized price for a tool call.
func (c *Calculator) Price(toolID string, params map[string]any) decimal.Decimal {
	rule, ok := c.rules[toolID]
	if !ok {
		return quantize(c.defaultPrice)
	}

	var amount decimal.Decimal
	switch rule.Kind {
	case KindFixed:
		amount = rule.Amount

	case KindPercentage:
		value := paramDecimal(params, rule.ParamField)
		amount = rule.Base.Add(rule.Rate.Mul(value))
		if !rule.Min.IsZero() && amount.LessThan(rule.Min) {
			amount = rule.Min
		}
		if !rule.Max.IsZero() && amount.GreaterThan(rule.Max) {
			amount = rule.Max
		}

	case KindTiered:
		value := paramDecimal(params, rule.ParamField)
		amount = c.defaultPrice
		// Past the last threshold the final tier price stands.
		for _, tier := range rule.Tiers {
			amount = tier.Amount
			if value.LessThanOrEqual(tier.Threshold) {
				break
			}
		}

	default:
		amount = c.defaultPrice
	}

	return quantize(amount)
}

// Requirement returns the full payment requirement for a tool call.
func (c *Calculator) Requirement(toolID string, params map[string]any) Requirement {
	desc := "Tool access"
	if rule, ok := c.rules[toolID]; ok && rule.Description != "" {
		desc = rule.Description
	}
	return Requirement{
		Amount:      c.Price(toolID, params),
		Recipient:   c.recipient,
		Mint:        c.mint,
		Network:     c.network,
		Description: desc,
	}
}

// quantize rounds to the asset's smallest unit, half away from zero.
// Applied exactly once per computed price.
func quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(USDCDecimals)
}

// paramDecimal extracts a numeric parameter, tolerating the value shapes
// JSON decoding and MCP clients produce. Missing or non-numeric values
// are treated as zero.
func paramDecimal(params map[string]any, field string) decimal.Decimal {
	if params == nil || field == "" {
		return decimal.Zero
	}
	switch v := params[field].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case decimal.Decimal:
		return v
	}
	return decimal.Zero
}

// FormatUSDC renders an amount with full asset precision, e.g. "2.100000".
func FormatUSDC(d decimal.Decimal) string {
	return d.StringFixed(USDCDecimals)
}

// ParseUSDC parses a decimal amount string.
func ParseUSDC(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// must be kept in sync with Rule docs: helper for building fixed rules.
func Fixed(amount string, description string) Rule {
	return Rule{Kind: KindFixed, Amount: mustDecimal(amount), Description: description}
}

// Percentage builds a base + rate*param rule with optional clamps.
func Percentage(base, rate, paramField string, min, max string, description string) Rule {
	return Rule{
		Kind:        KindPercentage,
		Base:        mustDecimal(base),
		Rate:        mustDecimal(rate),
		ParamField:  paramField,
		Min:         mustDecimal(min),
		Max:         mustDecimal(max),
		Description: description,
	}
}

// Tiered builds a threshold-table rule. Thresholds must be ascending.
func Tiered(paramField string, tiers []Tier, description string) Rule {
	return Rule{Kind: KindTiered, ParamField: paramField, Tiers: tiers, Description: description}
}

// TierOf builds a single tier entry.
func TierOf(threshold, amount string) Tier {
	return Tier{Threshold: mustDecimal(threshold), Amount: mustDecimal(amount)}
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("pricing: bad decimal literal " + strconv.Quote(s))
	}
	return d
}

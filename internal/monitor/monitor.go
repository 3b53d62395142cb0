// Package monitor observes payment verification: per-call events, running
// counters, threshold alerts, and a Prometheus-format metrics snapshot.
//
// The monitor is an explicitly constructed, injected instance (no
// module-level singletons) so tests get clean registries.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ringCap bounds the recent-event buffer used for windowed queries.
const ringCap = 1000

// Alert is raised when a threshold predicate fires. Alerts are
// notifications only; they never block or alter verification outcomes.
type Alert struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// AlertFunc receives raised alerts. The default sink logs at warn level.
type AlertFunc func(Alert)

// CacheOutcome describes what the replay cache lookup saw for one
// verification. Skipped means no usable lookup happened at all (the
// reference failed syntax checks, or the backend was down), so neither
// the hit nor the miss counter moves.
type CacheOutcome string

const (
	CacheHit     CacheOutcome = "hit"
	CacheMiss    CacheOutcome = "miss"
	CacheSkipped CacheOutcome = "skipped"
)

// Config sets alert thresholds.
type Config struct {
	// FailureRateThreshold alerts when the failure rate over at least
	// MinSamples recorded verifications exceeds it (default 0.10).
	FailureRateThreshold float64
	// SlowVerificationMs alerts when average latency exceeds it (default 5000).
	SlowVerificationMs float64
	// RPCErrorThreshold alerts when cumulative RPC errors cross it (default 10).
	RPCErrorThreshold int
	// MinSamples gates the failure-rate predicate (default 10).
	MinSamples int
}

// event is one recorded verification.
type event struct {
	at       time.Time
	success  bool
	duration time.Duration
	cached   bool
	amount   decimal.Decimal
	code     string
}

// Metrics is a point-in-time counter snapshot.
type Metrics struct {
	Total        int64           `json:"total"`
	Success      int64           `json:"success"`
	Failure      int64           `json:"failure"`
	CacheHits    int64           `json:"cache_hits"`
	CacheMisses  int64           `json:"cache_misses"`
	RPCErrors    int64           `json:"rpc_errors"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AvgLatencyMs float64         `json:"avg_latency_ms"`
	FailureRate  float64         `json:"failure_rate"`
}

// WindowedMetrics summarizes events inside a trailing window, with a
// per-error-code breakdown.
type WindowedMetrics struct {
	Window       time.Duration    `json:"window"`
	Total        int64            `json:"total"`
	Success      int64            `json:"success"`
	Failure      int64            `json:"failure"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	ErrorCodes   map[string]int64 `json:"error_codes,omitempty"`
}

// Monitor records verification events and evaluates alert predicates.
type Monitor struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger
	alert  AlertFunc

	total       int64
	success     int64
	failure     int64
	cacheHits   int64
	cacheMisses int64
	rpcErrors   int64
	totalAmount decimal.Decimal
	totalLat    time.Duration

	ring  [ringCap]event
	head  int
	count int

	// One-shot latches: each threshold alert fires once per process, not
	// on every record while the predicate holds.
	rpcAlertFired     bool
	failureAlertFired bool
	slowAlertFired    bool

	registry        *prometheus.Registry
	verifications   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	rpcErrorCounter prometheus.Counter
	amountCounter   prometheus.Counter
	latency         prometheus.Histogram
}

// New creates a monitor with its own Prometheus registry.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.10
	}
	if cfg.SlowVerificationMs <= 0 {
		cfg.SlowVerificationMs = 5000
	}
	if cfg.RPCErrorThreshold <= 0 {
		cfg.RPCErrorThreshold = 10
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}

	registry := prometheus.NewRegistry()

	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solex",
			Name:      "verifications_total",
			Help:      "Payment verifications by result and error code.",
		}, []string{"result", "code"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solex",
			Name:      "cache_lookups_total",
			Help:      "Replay cache lookups by outcome.",
		}, []string{"outcome"}),
		rpcErrorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solex",
			Name:      "rpc_errors_total",
			Help:      "RPC call failures across all endpoints.",
		}),
		amountCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solex",
			Name:      "verified_amount_usdc_total",
			Help:      "Cumulative USDC amount across successful verifications.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "solex",
			Name:      "verification_duration_seconds",
			Help:      "Payment verification latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.verifications, m.cacheLookups, m.rpcErrorCounter, m.amountCounter, m.latency)

	m.alert = func(a Alert) {
		logger.Warn("alert raised", "kind", a.Kind, "message", a.Message, "details", a.Details)
	}

	return m
}

// SetAlertFunc replaces the alert sink.
func (m *Monitor) SetAlertFunc(fn AlertFunc) {
	m.mu.Lock()
	m.alert = fn
	m.mu.Unlock()
}

// RecordVerification records one verification attempt and evaluates the
// alert predicates.
func (m *Monitor) RecordVerification(success bool, duration time.Duration, cache CacheOutcome, amount decimal.Decimal, errorCode string) {
	m.mu.Lock()

	m.total++
	if success {
		m.success++
		m.totalAmount = m.totalAmount.Add(amount)
	} else {
		m.failure++
	}
	switch cache {
	case CacheHit:
		m.cacheHits++
	case CacheMiss:
		m.cacheMisses++
	}
	m.totalLat += duration

	m.ring[m.head] = event{
		at:       time.Now(),
		success:  success,
		duration: duration,
		cached:   cache == CacheHit,
		amount:   amount,
		code:     errorCode,
	}
	m.head = (m.head + 1) % ringCap
	if m.count < ringCap {
		m.count++
	}

	result := "failure"
	if success {
		result = "success"
	}
	m.verifications.WithLabelValues(result, errorCode).Inc()
	if cache == CacheHit || cache == CacheMiss {
		m.cacheLookups.WithLabelValues(string(cache)).Inc()
	}
	m.latency.Observe(duration.Seconds())
	if success && amount.IsPositive() {
		f, _ := amount.Float64()
		m.amountCounter.Add(f)
	}

	alerts := m.evaluateLocked()
	sink := m.alert
	m.mu.Unlock()

	for _, a := range alerts {
		sink(a)
	}
}

// RecordRPCError counts one failed RPC call and evaluates the RPC alert.
func (m *Monitor) RecordRPCError() {
	m.mu.Lock()
	m.rpcErrors++
	m.rpcErrorCounter.Inc()

	var alerts []Alert
	if !m.rpcAlertFired && m.rpcErrors >= int64(m.cfg.RPCErrorThreshold) {
		m.rpcAlertFired = true
		alerts = append(alerts, Alert{
			Kind:    "high_rpc_errors",
			Message: "cumulative RPC error count crossed threshold",
			Details: map[string]any{
				"rpc_errors": m.rpcErrors,
				"threshold":  m.cfg.RPCErrorThreshold,
			},
			At: time.Now(),
		})
	}
	sink := m.alert
	m.mu.Unlock()

	for _, a := range alerts {
		sink(a)
	}
}

// evaluateLocked checks the failure-rate and latency predicates.
// Caller holds m.mu.
func (m *Monitor) evaluateLocked() []Alert {
	var alerts []Alert

	if !m.failureAlertFired && m.total >= int64(m.cfg.MinSamples) {
		rate := float64(m.failure) / float64(m.total)
		if rate > m.cfg.FailureRateThreshold {
			m.failureAlertFired = true
			alerts = append(alerts, Alert{
				Kind:    "high_failure_rate",
				Message: "verification failure rate exceeds threshold",
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    m.cfg.FailureRateThreshold,
					"samples":      m.total,
					"breakdown":    m.errorBreakdownLocked(),
				},
				At: time.Now(),
			})
		}
	}

	if !m.slowAlertFired && m.total > 0 {
		avgMs := float64(m.totalLat.Milliseconds()) / float64(m.total)
		if avgMs > m.cfg.SlowVerificationMs {
			m.slowAlertFired = true
			alerts = append(alerts, Alert{
				Kind:    "slow_verification",
				Message: "average verification latency exceeds threshold",
				Details: map[string]any{
					"avg_latency_ms": avgMs,
					"threshold_ms":   m.cfg.SlowVerificationMs,
				},
				At: time.Now(),
			})
		}
	}

	return alerts
}

// errorBreakdownLocked tallies error codes across the ring buffer.
func (m *Monitor) errorBreakdownLocked() map[string]int64 {
	out := make(map[string]int64)
	for i := 0; i < m.count; i++ {
		ev := m.ring[i]
		if !ev.success && ev.code != "" {
			out[ev.code]++
		}
	}
	return out
}

// GetMetrics returns the running counters.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg, rate float64
	if m.total > 0 {
		avg = float64(m.totalLat.Milliseconds()) / float64(m.total)
		rate = float64(m.failure) / float64(m.total)
	}
	return Metrics{
		Total:        m.total,
		Success:      m.success,
		Failure:      m.failure,
		CacheHits:    m.cacheHits,
		CacheMisses:  m.cacheMisses,
		RPCErrors:    m.rpcErrors,
		TotalAmount:  m.totalAmount,
		AvgLatencyMs: avg,
		FailureRate:  rate,
	}
}

// GetWindowedMetrics summarizes ring-buffer events newer than window.
func (m *Monitor) GetWindowedMetrics(window time.Duration) WindowedMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	out := WindowedMetrics{Window: window, ErrorCodes: make(map[string]int64)}

	var totalLat time.Duration
	for i := 0; i < m.count; i++ {
		ev := m.ring[i]
		if ev.at.Before(cutoff) {
			continue
		}
		out.Total++
		totalLat += ev.duration
		if ev.success {
			out.Success++
		} else {
			out.Failure++
			if ev.code != "" {
				out.ErrorCodes[ev.code]++
			}
		}
	}
	if out.Total > 0 {
		out.AvgLatencyMs = float64(totalLat.Milliseconds()) / float64(out.Total)
	}
	return out
}

// Registry exposes the monitor's Prometheus registry for scraping.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

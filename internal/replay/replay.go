// Package replay records which transaction signature already paid for
// which tool call, so a signature can never fund two different actions.
//
// Two interchangeable backends implement Store: a Redis store shared
// across server processes, and a process-local in-memory store. Entries
// are historical records: written once after a successful verification,
// read to detect reuse, and expired by TTL. They are never updated.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Get when a signature has no cache entry.
// Absence means "never verified" and triggers full verification.
var ErrNotFound = errors.New("replay: entry not found")

// Entry is the verification outcome bound to one transaction signature.
type Entry struct {
	ToolID     string          `json:"tool_id"`
	Amount     decimal.Decimal `json:"amount"`
	VerifiedAt time.Time       `json:"verified_at"`
	Verified   bool            `json:"verified"`
	Params     map[string]any  `json:"params,omitempty"`
}

// Stats reports cache usage counters.
type Stats struct {
	Count  int64 `json:"count"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Store is the replay cache contract. Implementations must be safe for
// concurrent use within a process; cross-process safety is a property of
// the backend (Redis yes, memory no).
type Store interface {
	Get(ctx context.Context, signature string) (*Entry, error)
	Set(ctx context.Context, signature string, entry *Entry) error
	Has(ctx context.Context, signature string) (bool, error)
	Delete(ctx context.Context, signature string) error
	Stats(ctx context.Context) (Stats, error)
}

// keyPrefix namespaces cache keys so unrelated data sharing the same
// Redis instance cannot collide.
const keyPrefix = "solex:payment:"

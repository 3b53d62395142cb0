package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is the on-chain transfer a verified signature proved.
type Transfer struct {
	Amount    decimal.Decimal `json:"amount"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Timestamp time.Time       `json:"timestamp"`
}

// VerificationResult is the outcome of one VerifyPayment call. Transient:
// returned to the caller and optionally folded into a cache entry, never
// persisted itself.
type VerificationResult struct {
	Valid     bool            `json:"valid"`
	Cached    bool            `json:"cached"`
	Amount    decimal.Decimal `json:"amount"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// TransferVerifier checks a transaction signature against the ledger.
// Implemented by internal/verifier; accepted as an interface so tests can
// count gateway invocations. ValidateSignature must be pure (no RPC).
type TransferVerifier interface {
	ValidateSignature(signature string) error
	Verify(ctx context.Context, signature string, expected decimal.Decimal) (*Transfer, error)
}

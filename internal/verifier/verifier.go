// Package verifier checks that a Solana transaction signature proves a
// qualifying USDC transfer to the service wallet.
//
// Verification is a fixed pipeline: syntactic validation (no RPC),
// transaction fetch with retry, age check, SPL balance-delta extraction,
// amount check with tolerance, recipient check. Each step's failure is a
// terminal, typed outcome; a step only runs once every earlier step passed.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/BOBER3r/solex-betting-mcp/internal/payment"
	"github.com/BOBER3r/solex-betting-mcp/internal/pricing"
	"github.com/BOBER3r/solex-betting-mcp/internal/rpcpool"
)

// Tolerance absorbs asset-precision rounding: one base unit at USDC's
// six decimal places.
var Tolerance = decimal.New(1, -pricing.USDCDecimals)

// Config for the verifier.
type Config struct {
	// Recipient is the wallet that must receive the transfer.
	Recipient string
	// Mint is the SPL token the transfer must move.
	Mint string
	// MaxTxAge rejects transactions older than this.
	MaxTxAge time.Duration
	// RetryMax and RetryBaseDelay govern the fetch retry loop.
	RetryMax       int
	RetryBaseDelay time.Duration
}

// Verifier fetches and checks transactions through the RPC pool.
type Verifier struct {
	pool      *rpcpool.Pool
	recipient string
	mint      solana.PublicKey
	cfg       Config
	logger    *slog.Logger
}

// New creates a verifier. The recipient and mint must be valid base58
// public keys.
func New(pool *rpcpool.Pool, cfg Config, logger *slog.Logger) (*Verifier, error) {
	mint, err := solana.PublicKeyFromBase58(cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address %q: %w", cfg.Mint, err)
	}
	if _, err := solana.PublicKeyFromBase58(cfg.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", cfg.Recipient, err)
	}
	if cfg.MaxTxAge <= 0 {
		cfg.MaxTxAge = 300 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Verifier{
		pool:      pool,
		recipient: cfg.Recipient,
		mint:      mint,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// ValidateReference checks the syntactic shape of a transaction signature
// without any RPC call: base58 alphabet, 87-88 characters, 64 bytes decoded.
func ValidateReference(signature string) error {
	if len(signature) < 87 || len(signature) > 88 {
		return payment.NewError(payment.CodeInvalidSignature,
			"transaction signature has the wrong length",
			"expected_length", "87-88 base58 characters",
			"actual_length", len(signature),
			"hint", "pass the base58 signature returned when the transfer was submitted")
	}
	raw, err := base58.Decode(signature)
	if err != nil {
		return payment.NewError(payment.CodeInvalidSignature,
			"transaction signature is not valid base58",
			"signature", signature,
			"hint", "signatures contain only base58 characters (no 0, O, I, l)")
	}
	if len(raw) != 64 {
		return payment.NewError(payment.CodeInvalidSignature,
			"transaction signature does not decode to 64 bytes",
			"decoded_bytes", len(raw))
	}
	return nil
}

// ValidateSignature implements the payment.TransferVerifier syntax check.
func (v *Verifier) ValidateSignature(signature string) error {
	return ValidateReference(signature)
}

// Verify runs the full pipeline for one signature against one expected
// amount. It returns a typed payment error on every business failure and
// a plain wrapped error only for unclassified RPC failures.
func (v *Verifier) Verify(ctx context.Context, signature string, expected decimal.Decimal) (*payment.Transfer, error) {
	if err := ValidateReference(signature); err != nil {
		return nil, err
	}

	sig := solana.MustSignatureFromBase58(signature)

	tx, err := v.fetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}

	if err := v.checkAge(tx); err != nil {
		return nil, err
	}

	transfer, err := v.extractTransfer(tx)
	if err != nil {
		return nil, err
	}

	if err := v.checkAmount(transfer, expected); err != nil {
		return nil, err
	}

	if err := v.checkRecipient(transfer); err != nil {
		return nil, err
	}

	v.logger.Debug("transfer verified",
		"signature", signature,
		"amount", transfer.Amount.String(),
		"sender", transfer.Sender,
	)
	return transfer, nil
}

// fetchTransaction pulls the transaction record through the pool with
// retry. A not-yet-visible transaction is retried like any transient
// failure; absence after all retries is TRANSACTION_NOT_FOUND.
func (v *Verifier) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	var out *rpc.GetTransactionResult
	maxVersion := uint64(0)

	err := v.pool.ScheduleWithRetry(ctx, func(ctx context.Context, client *rpc.Client) error {
		res, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		if res == nil {
			return rpc.ErrNotFound
		}
		out = res
		return nil
	}, v.cfg.RetryMax, v.cfg.RetryBaseDelay)

	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, payment.NewError(payment.CodeTransactionNotFound,
				"transaction not found on chain after retries",
				"signature", sig.String(),
				"hint", "confirm the transaction landed, then retry; recent transactions can take a few seconds to index")
		}
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	return out, nil
}

func (v *Verifier) checkAge(tx *rpc.GetTransactionResult) error {
	if tx.BlockTime == nil {
		return payment.NewError(payment.CodeExpiredPayment,
			"transaction has no recorded block time",
			"hint", "only finalized transactions carry a timestamp; wait for confirmation and retry")
	}

	txTime := tx.BlockTime.Time()
	age := time.Since(txTime)
	if age > v.cfg.MaxTxAge {
		return payment.NewError(payment.CodeExpiredPayment,
			"transaction is older than the acceptance window",
			"transaction_time", txTime.UTC().Format(time.RFC3339),
			"age_seconds", int64(age.Seconds()),
			"max_age_seconds", int64(v.cfg.MaxTxAge.Seconds()),
			"hint", "submit a fresh transfer; stale payments are rejected to limit replay exposure")
	}
	return nil
}

// extractTransfer scans pre/post token balance snapshots for the
// configured mint. The owner whose balance increased is the recipient and
// defines the transfer amount; the owner whose balance decreased by a
// matching amount is the sender.
func (v *Verifier) extractTransfer(tx *rpc.GetTransactionResult) (*payment.Transfer, error) {
	if tx.Meta == nil {
		return nil, payment.NewError(payment.CodeWrongToken,
			"transaction carries no balance metadata",
			"expected_mint", v.mint.String())
	}

	pre := balancesByOwner(tx.Meta.PreTokenBalances, v.mint)
	post := balancesByOwner(tx.Meta.PostTokenBalances, v.mint)

	var (
		recipient string
		sender    string
		amount    decimal.Decimal
	)

	for owner, postAmt := range post {
		delta := postAmt.Sub(pre[owner])
		if delta.IsPositive() && delta.GreaterThan(amount) {
			amount = delta
			recipient = owner
		}
	}

	if recipient == "" {
		return nil, payment.NewError(payment.CodeWrongToken,
			"no transfer of the expected token found in this transaction",
			"expected_mint", v.mint.String(),
			"hint", "the payment must be a USDC (SPL) transfer, not SOL or another token")
	}

	// The matching decrease identifies the sender. Fee-payer rounding can
	// make the decrease differ by dust, so match within tolerance.
	for owner, preAmt := range pre {
		delta := preAmt.Sub(post[owner])
		if delta.IsPositive() && delta.Sub(amount).Abs().LessThanOrEqual(Tolerance) {
			sender = owner
			break
		}
	}

	var ts time.Time
	if tx.BlockTime != nil {
		ts = tx.BlockTime.Time()
	}

	return &payment.Transfer{
		Amount:    amount,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: ts,
	}, nil
}

func (v *Verifier) checkAmount(transfer *payment.Transfer, expected decimal.Decimal) error {
	if transfer.Amount.LessThan(expected.Sub(Tolerance)) {
		shortfall := expected.Sub(transfer.Amount)
		return payment.NewError(payment.CodeInsufficientAmount,
			"transferred amount is less than the required price",
			"required", pricing.FormatUSDC(expected),
			"received", pricing.FormatUSDC(transfer.Amount),
			"shortfall", pricing.FormatUSDC(shortfall),
			"hint", "send a new transfer covering at least the required amount")
	}
	return nil
}

func (v *Verifier) checkRecipient(transfer *payment.Transfer) error {
	if transfer.Recipient != v.recipient {
		return payment.NewError(payment.CodeWrongRecipient,
			"transfer went to the wrong wallet",
			"expected_recipient", v.recipient,
			"actual_recipient", transfer.Recipient,
			"hint", "send the payment to the expected recipient wallet and retry")
	}
	return nil
}

// balancesByOwner folds token balance snapshots for one mint into
// owner -> decimal amount.
func balancesByOwner(balances []rpc.TokenBalance, mint solana.PublicKey) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		if !b.Mint.Equals(mint) || b.Owner == nil || b.UiTokenAmount == nil {
			continue
		}
		raw, err := decimal.NewFromString(b.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		amt := raw.Shift(-int32(b.UiTokenAmount.Decimals))
		// Multiple token accounts can share an owner; sum them.
		out[b.Owner.String()] = out[b.Owner.String()].Add(amt)
	}
	return out
}

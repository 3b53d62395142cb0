package verifier

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BOBER3r/solex-betting-mcp/internal/payment"
)

// validSig decodes to 64 bytes; 87 and 88 character variants.
const (
	validSig87 = "v5zfDWuFQtNPU2UQJvuBCnWqzmYqCLBPW5xEwSa1TVZAb2mJxHpVQWostadFgNPPj7muZdvRfm4PxBQtTrDLo43"
	validSig88 = "4NN8fbqM4Gp1pWWJdCTu7p1dn36mezopMf9WpGo2nhkffyURMz5WLguGQF77X2373Zn7zeC12oUAGttr8oJNRzN4"
)

func testVerifier(t *testing.T, recipient, mint solana.PublicKey) *Verifier {
	t.Helper()
	v, err := New(nil, Config{
		Recipient: recipient.String(),
		Mint:      mint.String(),
		MaxTxAge:  300 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func TestValidateReference(t *testing.T) {
	assert.NoError(t, ValidateReference(validSig87))
	assert.NoError(t, ValidateReference(validSig88))

	cases := []struct {
		name string
		sig  string
	}{
		{"empty", ""},
		{"too short", "abc"},
		{"too long", strings.Repeat("1", 100)},
		{"bad alphabet", strings.Repeat("0", 88)}, // '0' is not base58
		{"right length wrong bytes", strings.Repeat("1", 88)}, // 88 zero bytes decoded
	}
	for _, tc := range cases {
		err := ValidateReference(tc.sig)
		require.Error(t, err, tc.name)
		assert.Equal(t, payment.CodeInvalidSignature, payment.CodeOf(err), tc.name)
	}
}

func blockTime(d time.Duration) *solana.UnixTimeSeconds {
	bt := solana.UnixTimeSeconds(time.Now().Add(-d).Unix())
	return &bt
}

func tokenBalance(mint, owner solana.PublicKey, raw string) rpc.TokenBalance {
	o := owner
	return rpc.TokenBalance{
		Mint:  mint,
		Owner: &o,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   raw,
			Decimals: 6,
		},
	}
}

// transferTx builds a transaction result moving `raw` base units of mint
// from sender to recipient.
func transferTx(mint, sender, recipient solana.PublicKey, raw int64, age time.Duration) *rpc.GetTransactionResult {
	return &rpc.GetTransactionResult{
		BlockTime: blockTime(age),
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(mint, sender, decimal.NewFromInt(raw).String()),
				tokenBalance(mint, recipient, "0"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(mint, sender, "0"),
				tokenBalance(mint, recipient, decimal.NewFromInt(raw).String()),
			},
		},
	}
}

func TestExtractTransfer(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	tx := transferTx(mint, sender, recipient, 50_000, time.Minute)
	transfer, err := v.extractTransfer(tx)
	require.NoError(t, err)

	assert.True(t, transfer.Amount.Equal(decimal.RequireFromString("0.05")),
		"amount = %s", transfer.Amount)
	assert.Equal(t, recipient.String(), transfer.Recipient)
	assert.Equal(t, sender.String(), transfer.Sender)
}

func TestExtractTransferWrongMint(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	// Transfer of a different token: no qualifying balance increase.
	tx := transferTx(other, sender, recipient, 50_000, time.Minute)
	_, err := v.extractTransfer(tx)
	require.Error(t, err)
	assert.Equal(t, payment.CodeWrongToken, payment.CodeOf(err))
}

func TestExtractTransferNoMeta(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	_, err := v.extractTransfer(&rpc.GetTransactionResult{BlockTime: blockTime(0)})
	require.Error(t, err)
	assert.Equal(t, payment.CodeWrongToken, payment.CodeOf(err))
}

func TestCheckAgeBoundary(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	// Just inside the window passes.
	tx := &rpc.GetTransactionResult{BlockTime: blockTime(299 * time.Second)}
	assert.NoError(t, v.checkAge(tx))

	// One second past the window fails as expired.
	tx = &rpc.GetTransactionResult{BlockTime: blockTime(301 * time.Second)}
	err := v.checkAge(tx)
	require.Error(t, err)
	assert.Equal(t, payment.CodeExpiredPayment, payment.CodeOf(err))

	// Absent timestamp is also expired.
	err = v.checkAge(&rpc.GetTransactionResult{})
	require.Error(t, err)
	assert.Equal(t, payment.CodeExpiredPayment, payment.CodeOf(err))
}

func TestCheckAmountTolerance(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	expected := decimal.RequireFromString("0.05")

	// Exactly expected - tolerance passes.
	transfer := &payment.Transfer{Amount: expected.Sub(Tolerance)}
	assert.NoError(t, v.checkAmount(transfer, expected))

	// One more base unit short fails with the correct shortfall.
	transfer = &payment.Transfer{Amount: expected.Sub(Tolerance).Sub(Tolerance)}
	err := v.checkAmount(transfer, expected)
	require.Error(t, err)

	pe, ok := payment.AsError(err)
	require.True(t, ok)
	assert.Equal(t, payment.CodeInsufficientAmount, pe.Code)
	assert.Equal(t, "0.000002", pe.Details["shortfall"])
}

func TestCheckRecipient(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	assert.NoError(t, v.checkRecipient(&payment.Transfer{Recipient: recipient.String()}))

	err := v.checkRecipient(&payment.Transfer{Recipient: stranger.String()})
	require.Error(t, err)

	pe, ok := payment.AsError(err)
	require.True(t, ok)
	assert.Equal(t, payment.CodeWrongRecipient, pe.Code)
	assert.Equal(t, recipient.String(), pe.Details["expected_recipient"])
	assert.Equal(t, stranger.String(), pe.Details["actual_recipient"])
}

func TestMultipleTokenAccountsSameOwnerSummed(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	v := testVerifier(t, recipient, mint)

	tx := &rpc.GetTransactionResult{
		BlockTime: blockTime(time.Minute),
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalance(mint, sender, "100000"),
				tokenBalance(mint, recipient, "10000"),
				tokenBalance(mint, recipient, "0"),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(mint, sender, "50000"),
				tokenBalance(mint, recipient, "10000"),
				tokenBalance(mint, recipient, "50000"),
			},
		},
	}

	transfer, err := v.extractTransfer(tx)
	require.NoError(t, err)
	assert.True(t, transfer.Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, sender.String(), transfer.Sender)
}

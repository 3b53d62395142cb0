// Package payment orchestrates pay-per-call verification: replay cache
// lookup, on-chain transfer verification, and the typed error taxonomy
// every tool caller sees.
package payment

import (
	"errors"
	"fmt"
)

// Code identifies one terminal verification outcome. Codes are mutually
// exclusive per call and machine-readable: the caller is an autonomous
// agent, so every failure must carry enough context to self-correct.
type Code string

const (
	CodePaymentRequired     Code = "PAYMENT_REQUIRED"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeTransactionNotFound Code = "TRANSACTION_NOT_FOUND"
	CodeExpiredPayment      Code = "EXPIRED_PAYMENT"
	CodeWrongToken          Code = "WRONG_TOKEN"
	CodeInsufficientAmount  Code = "INSUFFICIENT_AMOUNT"
	CodeWrongRecipient      Code = "WRONG_RECIPIENT"
	CodeReplayAttack        Code = "REPLAY_ATTACK"
	CodeRPCError            Code = "RPC_ERROR"
	CodeVerificationTimeout Code = "VERIFICATION_TIMEOUT"

	// CodeToolExecutionError is the dispatch shell's last-resort envelope
	// for unclassified failures; the payment core never produces it.
	CodeToolExecutionError Code = "TOOL_EXECUTION_ERROR"
)

// Error is the single error type for every verification failure. Details
// carry expected-vs-actual values and suggested next actions.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches two payment errors by code, so callers can use
// errors.Is(err, &Error{Code: CodeReplayAttack}).
func (e *Error) Is(target error) bool {
	var pe *Error
	if !errors.As(target, &pe) {
		return false
	}
	return e.Code == pe.Code
}

// NewError builds a payment error. Details pairs are key, value, key,
// value; a trailing odd key is ignored.
func NewError(code Code, message string, kv ...any) *Error {
	var details map[string]any
	if len(kv) >= 2 {
		details = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			details[key] = kv[i+1]
		}
	}
	return &Error{Code: code, Message: message, Details: details}
}

// CodeOf extracts the payment code from err, or CodeRPCError for
// unclassified errors reaching the payment boundary.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeRPCError
}

// AsError returns the payment error inside err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the protocol error code enum.
type ErrorCode string

const (
	CodePaymentRequired      ErrorCode = "PAYMENT_REQUIRED"
	CodePaymentExpired       ErrorCode = "PAYMENT_EXPIRED"
	CodeInsufficientFunds    ErrorCode = "INSUFFICIENT_FUNDS"
	CodePaymentLimitExceeded ErrorCode = "PAYMENT_LIMIT_EXCEEDED"
	CodeVerificationFailed   ErrorCode = "PAYMENT_VERIFICATION_FAILED"
	CodeBroadcastFailed      ErrorCode = "TRANSACTION_BROADCAST_FAILED"
	CodeInvalidRequest       ErrorCode = "INVALID_PAYMENT_REQUEST"
)

// ErrorInfo is the read-only metadata attached to an error code.
type ErrorInfo struct {
	Code       ErrorCode
	Message    string
	Retryable  bool
	UserAction string
}

// ErrorCodes is the static error registry. It is initialized once and never
// mutated, so concurrent lookups need no synchronization.
var ErrorCodes = map[ErrorCode]ErrorInfo{
	CodePaymentRequired: {
		Code:       CodePaymentRequired,
		Message:    "Payment is required to access this resource",
		Retryable:  true,
		UserAction: "Configure a payment policy or pay manually and retry",
	},
	CodePaymentExpired: {
		Code:       CodePaymentExpired,
		Message:    "Payment request has expired",
		Retryable:  true,
		UserAction: "Fetch a fresh payment challenge and retry",
	},
	CodeInsufficientFunds: {
		Code:       CodeInsufficientFunds,
		Message:    "Wallet has insufficient token balance",
		Retryable:  false,
		UserAction: "Add funds to the wallet",
	},
	CodePaymentLimitExceeded: {
		Code:       CodePaymentLimitExceeded,
		Message:    "Required amount exceeds the configured payment ceiling",
		Retryable:  false,
		UserAction: "Raise the payment ceiling or decline the resource",
	},
	CodeVerificationFailed: {
		Code:       CodeVerificationFailed,
		Message:    "Server could not verify the payment on-chain",
		Retryable:  true,
		UserAction: "Retry once the transaction has confirmed",
	},
	CodeBroadcastFailed: {
		Code:       CodeBroadcastFailed,
		Message:    "Failed to broadcast transaction to the blockchain",
		Retryable:  true,
		UserAction: "Check network connection and RPC endpoint",
	},
	CodeInvalidRequest: {
		Code:       CodeInvalidRequest,
		Message:    "Payment request or authorization is malformed",
		Retryable:  false,
		UserAction: "Contact the API provider",
	},
}

// X402Error is the base type for all x402 protocol errors.
type X402Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *X402Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Info returns the registry metadata for the error's code.
func (e *X402Error) Info() ErrorInfo {
	return ErrorCodes[e.Code]
}

// Retryable reports the default retry behavior for err, consulting the error
// registry. Errors outside the taxonomy are not retryable.
func Retryable(err error) bool {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Info().Retryable
	}
	return false
}

// PaymentRequiredError is returned when a 402 response is received and no
// payment policy is configured, or a payment was already attempted.
type PaymentRequiredError struct {
	*X402Error
	PaymentRequest *PaymentRequest
}

// Unwrap returns the base protocol error.
func (e *PaymentRequiredError) Unwrap() error { return e.X402Error }

// NewPaymentRequiredError creates a new PaymentRequiredError.
func NewPaymentRequiredError(pr *PaymentRequest, message string) *PaymentRequiredError {
	if message == "" {
		message = ErrorCodes[CodePaymentRequired].Message
	}
	return &PaymentRequiredError{
		X402Error:      &X402Error{Code: CodePaymentRequired, Message: message},
		PaymentRequest: pr,
	}
}

// PaymentExpiredError is returned when the payment window has lapsed. The
// caller must fetch a fresh challenge.
type PaymentExpiredError struct {
	*X402Error
	PaymentID string
}

// Unwrap returns the base protocol error.
func (e *PaymentExpiredError) Unwrap() error { return e.X402Error }

// NewPaymentExpiredError creates a new PaymentExpiredError.
func NewPaymentExpiredError(paymentID string) *PaymentExpiredError {
	return &PaymentExpiredError{
		X402Error: &X402Error{
			Code:    CodePaymentExpired,
			Message: fmt.Sprintf("payment request %s has expired", paymentID),
		},
		PaymentID: paymentID,
	}
}

// InsufficientFundsError is returned when the wallet balance is below the
// required amount.
type InsufficientFundsError struct {
	*X402Error
	Required  string
	Available string
}

// Unwrap returns the base protocol error.
func (e *InsufficientFundsError) Unwrap() error { return e.X402Error }

// NewInsufficientFundsError creates a new InsufficientFundsError.
func NewInsufficientFundsError(required, available string) *InsufficientFundsError {
	return &InsufficientFundsError{
		X402Error: &X402Error{
			Code:    CodeInsufficientFunds,
			Message: fmt.Sprintf("insufficient funds: need %s, have %s", required, available),
		},
		Required:  required,
		Available: available,
	}
}

// PaymentLimitExceededError is returned when the challenge amount exceeds the
// configured ceiling. It is a safety guard, not a funds check.
type PaymentLimitExceededError struct {
	*X402Error
	Required string
	Ceiling  string
}

// Unwrap returns the base protocol error.
func (e *PaymentLimitExceededError) Unwrap() error { return e.X402Error }

// NewPaymentLimitExceededError creates a new PaymentLimitExceededError.
func NewPaymentLimitExceededError(required, ceiling string) *PaymentLimitExceededError {
	return &PaymentLimitExceededError{
		X402Error: &X402Error{
			Code:    CodePaymentLimitExceeded,
			Message: fmt.Sprintf("required amount %s exceeds payment ceiling %s", required, ceiling),
		},
		Required: required,
		Ceiling:  ceiling,
	}
}

// PaymentVerificationError is returned when the on-chain proof is not yet
// confirmed or visible.
type PaymentVerificationError struct {
	*X402Error
	Reason string
}

// Unwrap returns the base protocol error.
func (e *PaymentVerificationError) Unwrap() error { return e.X402Error }

// NewPaymentVerificationError creates a new PaymentVerificationError.
func NewPaymentVerificationError(reason string) *PaymentVerificationError {
	return &PaymentVerificationError{
		X402Error: &X402Error{
			Code:    CodeVerificationFailed,
			Message: "payment verification failed: " + reason,
		},
		Reason: reason,
	}
}

// TransactionBroadcastError is returned when broadcasting a transaction
// fails. TransactionHash is set when a transaction went out before the
// failure, so callers can reconcile a payment that may have landed.
type TransactionBroadcastError struct {
	*X402Error
	Reason          string
	TransactionHash string
}

// Unwrap returns the base protocol error.
func (e *TransactionBroadcastError) Unwrap() error { return e.X402Error }

// NewTransactionBroadcastError creates a new TransactionBroadcastError.
func NewTransactionBroadcastError(reason string) *TransactionBroadcastError {
	return &TransactionBroadcastError{
		X402Error: &X402Error{
			Code:    CodeBroadcastFailed,
			Message: "failed to broadcast transaction: " + reason,
		},
		Reason: reason,
	}
}

// InvalidPaymentRequestError is returned when a challenge or authorization is
// malformed or mismatched. It signals a protocol bug or tampering.
type InvalidPaymentRequestError struct {
	*X402Error
	Reason string
}

// Unwrap returns the base protocol error.
func (e *InvalidPaymentRequestError) Unwrap() error { return e.X402Error }

// NewInvalidPaymentRequestError creates a new InvalidPaymentRequestError.
func NewInvalidPaymentRequestError(reason string) *InvalidPaymentRequestError {
	return &InvalidPaymentRequestError{
		X402Error: &X402Error{
			Code:    CodeInvalidRequest,
			Message: "invalid payment request: " + reason,
		},
		Reason: reason,
	}
}

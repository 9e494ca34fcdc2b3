// Package types defines the value types of the x402 payment protocol: the
// payment request carried in a 402 response body, the payment authorization
// carried in the retry request header, and the protocol error taxonomy.
package types

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AuthorizationHeader is the header carrying a serialized PaymentAuthorization.
const AuthorizationHeader = "X-Payment-Authorization"

// PaymentRequest is the payment challenge a resource server returns with an
// HTTP 402 status. It is immutable once constructed and consumed exactly once
// by a client negotiator.
type PaymentRequest struct {
	MaxAmountRequired string    `json:"max_amount_required"`
	AssetType         AssetType `json:"asset_type"`
	AssetAddress      string    `json:"asset_address"`
	PaymentAddress    string    `json:"payment_address"`
	Network           Network   `json:"network"`
	ExpiresAt         time.Time `json:"expires_at"`
	Nonce             string    `json:"nonce"`
	PaymentID         string    `json:"payment_id"`
	Resource          string    `json:"resource"`
	Description       string    `json:"description,omitempty"`
}

// IsExpired reports whether the payment request has expired at the given time.
func (pr *PaymentRequest) IsExpired(now time.Time) bool {
	return !now.Before(pr.ExpiresAt)
}

// Validate checks that every required field is present and that the amount is
// a positive decimal string.
func (pr *PaymentRequest) Validate() error {
	switch {
	case pr.MaxAmountRequired == "":
		return NewInvalidPaymentRequestError("max_amount_required is required")
	case pr.AssetAddress == "":
		return NewInvalidPaymentRequestError("asset_address is required")
	case pr.PaymentAddress == "":
		return NewInvalidPaymentRequestError("payment_address is required")
	case pr.Network == "":
		return NewInvalidPaymentRequestError("network is required")
	case pr.ExpiresAt.IsZero():
		return NewInvalidPaymentRequestError("expires_at is required")
	case pr.Nonce == "":
		return NewInvalidPaymentRequestError("nonce is required")
	case pr.PaymentID == "":
		return NewInvalidPaymentRequestError("payment_id is required")
	}

	amount, err := decimal.NewFromString(pr.MaxAmountRequired)
	if err != nil {
		return NewInvalidPaymentRequestError("max_amount_required is not a decimal: " + pr.MaxAmountRequired)
	}
	if !amount.IsPositive() {
		return NewInvalidPaymentRequestError("max_amount_required must be positive: " + pr.MaxAmountRequired)
	}

	return nil
}

// ParsePaymentRequest parses and validates a PaymentRequest from a 402
// response body.
func ParsePaymentRequest(body []byte) (*PaymentRequest, error) {
	var pr PaymentRequest
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, NewInvalidPaymentRequestError("failed to parse payment request: " + err.Error())
	}
	if err := pr.Validate(); err != nil {
		return nil, err
	}
	return &pr, nil
}

// PaymentAuthorization is the proof that a PaymentRequest was satisfied. It
// is produced by the client negotiator after a successful broadcast and
// validated by the server verifier against the issued request and on-chain
// state.
type PaymentAuthorization struct {
	PaymentID       string    `json:"payment_id"`
	ActualAmount    string    `json:"actual_amount"`
	PaymentAddress  string    `json:"payment_address"`
	AssetAddress    string    `json:"asset_address"`
	Network         Network   `json:"network"`
	Timestamp       time.Time `json:"timestamp"`
	Signature       string    `json:"signature"`
	PublicKey       string    `json:"public_key"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
}

// Validate checks that every field required for verification is present and
// that the amount is a positive decimal string.
func (pa *PaymentAuthorization) Validate() error {
	switch {
	case pa.PaymentID == "":
		return NewInvalidPaymentRequestError("payment_id is required")
	case pa.ActualAmount == "":
		return NewInvalidPaymentRequestError("actual_amount is required")
	case pa.PaymentAddress == "":
		return NewInvalidPaymentRequestError("payment_address is required")
	case pa.AssetAddress == "":
		return NewInvalidPaymentRequestError("asset_address is required")
	case pa.TransactionHash == "":
		return NewInvalidPaymentRequestError("transaction_hash is required")
	}

	amount, err := decimal.NewFromString(pa.ActualAmount)
	if err != nil {
		return NewInvalidPaymentRequestError("actual_amount is not a decimal: " + pa.ActualAmount)
	}
	if !amount.IsPositive() {
		return NewInvalidPaymentRequestError("actual_amount must be positive: " + pa.ActualAmount)
	}

	return nil
}

// HeaderValue encodes the authorization as the X-Payment-Authorization header
// value: the base64 encoding of its canonical JSON serialization.
func (pa *PaymentAuthorization) HeaderValue() (string, error) {
	data, err := json.Marshal(pa)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParseAuthorizationHeader decodes and validates a PaymentAuthorization from
// an X-Payment-Authorization header value.
func ParseAuthorizationHeader(headerValue string) (*PaymentAuthorization, error) {
	decoded, err := base64.StdEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, NewInvalidPaymentRequestError("failed to decode authorization header: " + err.Error())
	}

	var pa PaymentAuthorization
	if err := json.Unmarshal(decoded, &pa); err != nil {
		return nil, NewInvalidPaymentRequestError("failed to parse payment authorization: " + err.Error())
	}
	if err := pa.Validate(); err != nil {
		return nil, err
	}

	return &pa, nil
}

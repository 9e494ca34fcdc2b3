// Package middleware provides net/http middleware that gates handlers behind
// an x402 payment: it issues 402 challenges, records them in a request
// store, and admits only requests whose payment authorization verifies
// against on-chain state.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/raid-guild/x402-go/core"
	"github.com/raid-guild/x402-go/store"
	"github.com/raid-guild/x402-go/types"
)

// Options configures the payment requirement for one protected handler.
type Options struct {
	Amount         string          // required payment in token units, e.g. "0.10"
	PaymentAddress string          // recipient account
	AssetAddress   string          // token identifier
	AssetType      types.AssetType // defaults to SPL
	Network        types.Network
	Description    string        // advisory, echoed in the challenge
	ExpiresIn      time.Duration // challenge validity window, defaults to 5m
	SingleUse      bool          // consume the stored request on first success
}

// Middleware gates handlers behind x402 payments using a shared verifier and
// issued-request store.
type Middleware struct {
	verifier *core.Verifier
	requests store.RequestStore
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Middleware. A nil logger means no logging.
func New(verifier *core.Verifier, requests store.RequestStore, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		verifier: verifier,
		requests: requests,
		logger:   logger,
		now:      time.Now,
	}
}

// PaymentRequired wraps a handler so that requests without a valid payment
// authorization receive a 402 challenge, and requests bearing one are
// verified before the handler runs.
func (m *Middleware) PaymentRequired(opts Options) func(http.Handler) http.Handler {
	if opts.ExpiresIn <= 0 {
		opts.ExpiresIn = 5 * time.Minute
	}
	if opts.AssetType == "" {
		opts.AssetType = types.AssetTypeSPL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headerValue := r.Header.Get(types.AuthorizationHeader)
			if headerValue == "" {
				m.issueChallenge(w, r, opts)
				return
			}

			payment, err := m.verify(r.Context(), headerValue, opts)
			if err != nil {
				m.reject(w, r, err)
				return
			}

			paymentsVerified.Inc()
			ctx := context.WithValue(r.Context(), paymentContextKey, payment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// issueChallenge stores a fresh payment request and sends it as the 402
// response body.
func (m *Middleware) issueChallenge(w http.ResponseWriter, r *http.Request, opts Options) {
	request := &types.PaymentRequest{
		MaxAmountRequired: opts.Amount,
		AssetType:         opts.AssetType,
		AssetAddress:      opts.AssetAddress,
		PaymentAddress:    opts.PaymentAddress,
		Network:           opts.Network,
		ExpiresAt:         m.now().UTC().Add(opts.ExpiresIn),
		Nonce:             uuid.NewString(),
		PaymentID:         uuid.NewString(),
		Resource:          r.URL.Path,
		Description:       opts.Description,
	}

	if err := m.requests.Put(r.Context(), request); err != nil {
		m.logger.Error("failed to store payment request",
			zap.String("payment_id", request.PaymentID),
			zap.Error(err),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	challengesIssued.Inc()
	m.logger.Debug("payment challenge issued",
		zap.String("payment_id", request.PaymentID),
		zap.String("resource", request.Resource),
		zap.String("amount", request.MaxAmountRequired),
	)

	respondJSON(w, http.StatusPaymentRequired, request)
}

// verify validates the authorization header against the stored request and
// the resource's price, consuming the stored request for single-use
// resources.
func (m *Middleware) verify(ctx context.Context, headerValue string, opts Options) (*core.VerifiedPayment, error) {
	payment, err := m.verifier.VerifyHeader(ctx, headerValue, m.requests)
	if err != nil {
		return nil, err
	}

	// The verifier bounds the amount by the challenge; the price floor is
	// this resource's policy.
	required, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("configured amount is not a decimal: " + opts.Amount)
	}
	paid, err := decimal.NewFromString(payment.Amount)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("verified amount is not a decimal: " + payment.Amount)
	}
	if paid.LessThan(required) {
		return nil, types.NewPaymentVerificationError("payment " + payment.Amount + " is below the required " + opts.Amount)
	}

	if opts.SingleUse {
		if _, err := m.requests.Consume(ctx, payment.PaymentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, types.NewInvalidPaymentRequestError("payment " + payment.PaymentID + " was already used")
			}
			return nil, err
		}
	}

	return payment, nil
}

// reject maps a verification failure to an HTTP response.
func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	var xe *types.X402Error
	if !errors.As(err, &xe) {
		m.logger.Error("payment verification error", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	verificationFailures.WithLabelValues(string(xe.Code)).Inc()
	m.logger.Info("payment rejected",
		zap.String("code", string(xe.Code)),
		zap.String("path", r.URL.Path),
	)

	respondJSON(w, http.StatusForbidden, map[string]string{
		"error": xe.Message,
		"code":  string(xe.Code),
	})
}

// paymentContextKey is the context key for the verified payment.
type contextKey string

const paymentContextKey contextKey = "x402_verified_payment"

// GetVerifiedPayment returns the verified payment attached to the request,
// or nil when the handler is not behind PaymentRequired.
func GetVerifiedPayment(r *http.Request) *core.VerifiedPayment {
	if payment, ok := r.Context().Value(paymentContextKey).(*core.VerifiedPayment); ok {
		return payment
	}
	return nil
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

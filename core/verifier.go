package core

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/raid-guild/x402-go/types"
)

// RequestStore is the lookup contract the verifier requires from the issued
// request store. Implementations must return an error for unknown payment
// ids; the verifier maps any lookup miss to an InvalidPaymentRequestError.
type RequestStore interface {
	Get(ctx context.Context, paymentID string) (*types.PaymentRequest, error)
}

// VerifiedPayment is the verification result handed to the protected
// handler.
type VerifiedPayment struct {
	PaymentID string
	Amount    string
	Payer     string
}

// Verifier validates an inbound PaymentAuthorization against the
// PaymentRequest the server itself issued and against on-chain state.
//
// Verification is a pure function of the issued request plus chain state:
// amounts and recipient are never taken from the header without chain
// confirmation. Verifying the same authorization twice within the expiry
// window yields the same result; the verifier consumes no state.
type Verifier struct {
	cfg    Config
	chain  ChainClient
	logger *zap.Logger

	now   func() time.Time
	sleep sleepFunc
}

// VerifierOptions contains optional dependencies for a Verifier.
type VerifierOptions struct {
	Logger *zap.Logger // defaults to a no-op logger
}

// NewVerifier creates a Verifier backed by the given chain client.
func NewVerifier(cfg Config, chain ChainClient, opts *VerifierOptions) *Verifier {
	if opts == nil {
		opts = &VerifierOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{
		cfg:    cfg.withDefaults(),
		chain:  chain,
		logger: logger,
		now:    time.Now,
		sleep:  sleepWithContext,
	}
}

// Verify validates the authorization against the issued request.
//
// It fails with InvalidPaymentRequestError on a payment id, recipient, or
// asset mismatch, with PaymentExpiredError when the issued request's window
// has lapsed, and with PaymentVerificationError when the on-chain lookup
// does not show a confirmed transfer of at least the authorized amount of
// the issued asset to the issued payment address.
func (v *Verifier) Verify(ctx context.Context, auth *types.PaymentAuthorization, issued *types.PaymentRequest) (*VerifiedPayment, error) {
	if auth.PaymentID != issued.PaymentID {
		return nil, types.NewInvalidPaymentRequestError("authorization payment_id does not match issued request")
	}
	if auth.PaymentAddress != issued.PaymentAddress {
		return nil, types.NewInvalidPaymentRequestError("authorization payment_address does not match issued request")
	}
	if auth.AssetAddress != issued.AssetAddress {
		return nil, types.NewInvalidPaymentRequestError("authorization asset_address does not match issued request")
	}

	if issued.IsExpired(v.now()) {
		return nil, types.NewPaymentExpiredError(issued.PaymentID)
	}

	actual, err := decimal.NewFromString(auth.ActualAmount)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("actual_amount is not a decimal: " + auth.ActualAmount)
	}
	required, err := decimal.NewFromString(issued.MaxAmountRequired)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("issued max_amount_required is not a decimal: " + issued.MaxAmountRequired)
	}
	if actual.GreaterThan(required) {
		// actual_amount must never exceed the challenge bound. Whether a
		// smaller amount is sufficient is the resource server's policy.
		return nil, types.NewInvalidPaymentRequestError("actual_amount " + auth.ActualAmount + " exceeds max_amount_required " + issued.MaxAmountRequired)
	}

	if err := v.confirmOnChain(ctx, auth.TransactionHash, issued, actual); err != nil {
		return nil, err
	}

	v.logger.Info("payment verified",
		zap.String("payment_id", issued.PaymentID),
		zap.String("amount", actual.String()),
		zap.String("transaction_hash", auth.TransactionHash),
	)

	return &VerifiedPayment{
		PaymentID: issued.PaymentID,
		Amount:    actual.String(),
		Payer:     auth.PublicKey,
	}, nil
}

// VerifyHeader decodes an X-Payment-Authorization header value, looks up the
// issued request it references, and verifies it. A missing stored request
// fails with InvalidPaymentRequestError.
func (v *Verifier) VerifyHeader(ctx context.Context, headerValue string, store RequestStore) (*VerifiedPayment, error) {
	auth, err := types.ParseAuthorizationHeader(headerValue)
	if err != nil {
		return nil, err
	}

	issued, err := store.Get(ctx, auth.PaymentID)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("no issued request for payment_id " + auth.PaymentID)
	}

	return v.Verify(ctx, auth, issued)
}

// confirmOnChain looks up the transaction and checks it carries a confirmed
// transfer satisfying the issued request. Transient lookup failures are
// retried up to the configured bound with backoff.
func (v *Verifier) confirmOnChain(ctx context.Context, txHash string, issued *types.PaymentRequest, amount decimal.Decimal) error {
	return withRetries(ctx, v.cfg.RetryCount, v.cfg.RetryBackoff, v.sleep, isVerificationError, func() error {
		status, err := v.chain.Transaction(ctx, txHash)
		if err != nil {
			if isVerificationError(err) {
				return err
			}
			return types.NewPaymentVerificationError("transaction lookup failed: " + err.Error())
		}
		if !status.Confirmed {
			return types.NewPaymentVerificationError("transaction " + txHash + " is not finalized")
		}
		if !status.TransferTo(issued.PaymentAddress, issued.AssetAddress, amount) {
			return types.NewPaymentVerificationError("transaction " + txHash + " does not transfer " + amount.String() + " to " + issued.PaymentAddress)
		}
		return nil
	})
}

// isVerificationError reports whether err is a transient verification
// failure.
func isVerificationError(err error) bool {
	var ve *types.PaymentVerificationError
	return errors.As(err, &ve)
}

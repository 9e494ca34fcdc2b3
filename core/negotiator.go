package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/raid-guild/x402-go/types"
)

// Negotiator drives one logical resource fetch through zero or one payment
// round trips, enforcing the expiry, ceiling, and retry policy.
//
// A negotiator is safe for concurrent use: each Fetch call owns its own
// PaymentRequest and PaymentAuthorization and shares no mutable state with
// other calls.
type Negotiator struct {
	cfg        Config
	chain      ChainClient
	httpClient *http.Client
	logger     *zap.Logger

	// injected for deterministic tests
	now   func() time.Time
	sleep sleepFunc
}

// NegotiatorOptions contains optional dependencies for a Negotiator.
type NegotiatorOptions struct {
	HTTPClient *http.Client // defaults to a fresh http.Client
	Logger     *zap.Logger  // defaults to a no-op logger
}

// NewNegotiator creates a Negotiator. A nil chain client means no payment
// policy is configured: a 402 response then surfaces as a
// PaymentRequiredError instead of triggering an automatic payment.
func NewNegotiator(cfg Config, chain ChainClient, opts *NegotiatorOptions) *Negotiator {
	if opts == nil {
		opts = &NegotiatorOptions{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Negotiator{
		cfg:        cfg.withDefaults(),
		chain:      chain,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepWithContext,
	}
}

// Fetch issues the request and, on a 402 response, executes exactly one
// payment round trip before re-issuing the request with the payment
// authorization header attached. Any response other than the initial 402 is
// returned verbatim, including a non-2xx retried response.
func (n *Negotiator) Fetch(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	resp, err := n.do(ctx, method, url, body, headers, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	request, err := readPaymentRequest(resp)
	if err != nil {
		return nil, err
	}

	if n.chain == nil {
		return nil, types.NewPaymentRequiredError(request, "")
	}

	authorization, err := n.Pay(ctx, request)
	if err != nil {
		return nil, err
	}

	retried, err := n.do(ctx, method, url, body, headers, authorization)
	if err != nil {
		return nil, err
	}

	// A second 402 means the server rejected or re-challenged the payment.
	// Never enter another payment round for the same call.
	if retried.StatusCode == http.StatusPaymentRequired {
		request, err := readPaymentRequest(retried)
		if err != nil {
			return nil, err
		}
		return nil, types.NewPaymentRequiredError(request, "payment was attempted but the server still requires payment")
	}

	return retried, nil
}

// Pay satisfies a single payment request: it checks expiry, the configured
// ceiling, and the payer balance, then broadcasts a transfer of the required
// amount with bounded retries, returning the resulting authorization.
func (n *Negotiator) Pay(ctx context.Context, request *types.PaymentRequest) (*types.PaymentAuthorization, error) {
	if request.IsExpired(n.now()) {
		return nil, types.NewPaymentExpiredError(request.PaymentID)
	}

	amount, err := decimal.NewFromString(request.MaxAmountRequired)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("max_amount_required is not a decimal: " + request.MaxAmountRequired)
	}

	ceiling, hasCeiling, err := n.cfg.ceiling()
	if err != nil {
		return nil, fmt.Errorf("invalid payment ceiling %q: %w", n.cfg.MaxPaymentCeiling, err)
	}
	if hasCeiling && amount.GreaterThan(ceiling) {
		return nil, types.NewPaymentLimitExceededError(request.MaxAmountRequired, n.cfg.MaxPaymentCeiling)
	}

	payer := n.chain.PayerAddress()
	balance, err := n.chain.Balance(ctx, payer, request.AssetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	if balance.LessThan(amount) {
		return nil, types.NewInsufficientFundsError(request.MaxAmountRequired, balance.String())
	}

	txHash, err := n.broadcast(ctx, request, amount)
	if err != nil {
		return nil, err
	}

	n.logger.Info("payment broadcast",
		zap.String("payment_id", request.PaymentID),
		zap.String("amount", amount.String()),
		zap.String("transaction_hash", txHash),
	)

	return &types.PaymentAuthorization{
		PaymentID:       request.PaymentID,
		ActualAmount:    amount.String(),
		PaymentAddress:  request.PaymentAddress,
		AssetAddress:    request.AssetAddress,
		Network:         request.Network,
		Timestamp:       n.now().UTC(),
		Signature:       txHash,
		PublicKey:       payer,
		TransactionHash: txHash,
	}, nil
}

// broadcast sends the transfer, retrying transient broadcast failures up to
// the configured bound with backoff.
func (n *Negotiator) broadcast(ctx context.Context, request *types.PaymentRequest, amount decimal.Decimal) (string, error) {
	var txHash string
	attempt := 0

	err := withRetries(ctx, n.cfg.RetryCount, n.cfg.RetryBackoff, n.sleep, isBroadcastError, func() error {
		attempt++
		hash, err := n.chain.Transfer(ctx, request.PaymentAddress, request.AssetAddress, amount)
		if err != nil {
			n.logger.Warn("transaction broadcast failed",
				zap.String("payment_id", request.PaymentID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if isBroadcastError(err) {
				return err
			}
			return types.NewTransactionBroadcastError(err.Error())
		}
		txHash = hash
		return nil
	})
	if err != nil {
		return "", err
	}

	return txHash, nil
}

// isBroadcastError reports whether err is a transient broadcast failure.
func isBroadcastError(err error) bool {
	var be *types.TransactionBroadcastError
	return errors.As(err, &be)
}

// do issues a single HTTP request, attaching the authorization header when a
// payment authorization is provided.
func (n *Negotiator) do(ctx context.Context, method, url string, body []byte, headers http.Header, payment *types.PaymentAuthorization) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	if payment != nil {
		headerValue, err := payment.HeaderValue()
		if err != nil {
			return nil, fmt.Errorf("failed to encode payment authorization: %w", err)
		}
		req.Header.Set(types.AuthorizationHeader, headerValue)
	}

	return n.httpClient.Do(req)
}

// readPaymentRequest drains a 402 response body and parses the challenge.
func readPaymentRequest(resp *http.Response) (*types.PaymentRequest, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("failed to read 402 response body: " + err.Error())
	}
	return types.ParsePaymentRequest(body)
}

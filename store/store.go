// Package store provides issued-request stores for resource servers: the
// server records every PaymentRequest it issues and the verifier looks the
// request up by payment id when an authorization comes back.
//
// Stores enforce at-most-once issuance per payment id and nonce: inserting a
// duplicate fails with ErrDuplicate. Single-use resources consume the stored
// request after a successful verification via Consume.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/raid-guild/x402-go/types"
)

// ErrNotFound is returned when no issued request exists for a payment id.
var ErrNotFound = errors.New("payment request not found")

// ErrDuplicate is returned when a payment id or nonce is issued twice.
var ErrDuplicate = errors.New("payment request already issued")

// RequestStore records issued payment requests until they expire.
type RequestStore interface {
	// Put records an issued request. A payment id or nonce that was already
	// recorded fails with ErrDuplicate.
	Put(ctx context.Context, request *types.PaymentRequest) error

	// Get returns the issued request for a payment id, or ErrNotFound.
	Get(ctx context.Context, paymentID string) (*types.PaymentRequest, error)

	// Consume returns the issued request and deletes it in the same
	// operation, so a single-use authorization cannot grant access twice.
	Consume(ctx context.Context, paymentID string) (*types.PaymentRequest, error)

	// PurgeExpired deletes every request whose expiry is at or before now
	// and returns the number deleted.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/raid-guild/x402-go/types"
)

// SQLStore is a RequestStore backed by a Postgres database through
// database/sql. The unique constraints on payment_id and nonce enforce
// at-most-once issuance, and Consume's DELETE ... RETURNING serializes
// concurrent consumes per key inside the database.
//
// Nonces live in their own table so purging an expired request keeps its
// nonce burned, matching the memory and Bolt backends.
//
// Expected schema:
//
//	CREATE TABLE payment_nonces (
//	    nonce TEXT PRIMARY KEY
//	);
//
//	CREATE TABLE payment_requests (
//	    payment_id TEXT PRIMARY KEY,
//	    nonce      TEXT NOT NULL REFERENCES payment_nonces (nonce),
//	    request    JSONB NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Put records an issued request, rejecting duplicate payment ids and nonces.
// The nonce and the request are inserted in one transaction.
func (s *SQLStore) Put(ctx context.Context, request *types.PaymentRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO payment_nonces (nonce) VALUES ($1) ON CONFLICT DO NOTHING",
		request.Nonce,
	)
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return ErrDuplicate
	}

	result, err = tx.ExecContext(ctx,
		"INSERT INTO payment_requests (payment_id, nonce, request, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING",
		request.PaymentID, request.Nonce, data, request.ExpiresAt,
	)
	if err != nil {
		return err
	}
	inserted, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return ErrDuplicate
	}

	return tx.Commit()
}

// Get returns the issued request for a payment id.
func (s *SQLStore) Get(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT request FROM payment_requests WHERE payment_id = $1",
		paymentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	request := &types.PaymentRequest{}
	if err := json.Unmarshal(data, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Consume returns and deletes the issued request in one statement.
func (s *SQLStore) Consume(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"DELETE FROM payment_requests WHERE payment_id = $1 RETURNING request",
		paymentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	request := &types.PaymentRequest{}
	if err := json.Unmarshal(data, request); err != nil {
		return nil, err
	}
	return request, nil
}

// PurgeExpired deletes every request expired at now. The payment_nonces
// rows stay, so an expired nonce cannot be reissued.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM payment_requests WHERE expires_at <= $1",
		now,
	)
	if err != nil {
		return 0, err
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(purged), nil
}

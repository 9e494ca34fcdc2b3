package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/raid-guild/x402-go/types"
)

const (
	requestsBucket = "payment_requests"
	noncesBucket   = "nonces"
)

// BoltStore is a RequestStore backed by a BoltDB file. All data lives in a
// single file, so no external database process is required; Bolt's
// single-writer transactions serialize concurrent consumes per key.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) a BoltDB database at the given path and
// ensures the buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(requestsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(noncesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put records an issued request, rejecting duplicate payment ids and nonces.
func (s *BoltStore) Put(ctx context.Context, request *types.PaymentRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		requests := tx.Bucket([]byte(requestsBucket))
		nonces := tx.Bucket([]byte(noncesBucket))

		if requests.Get([]byte(request.PaymentID)) != nil {
			return ErrDuplicate
		}
		if nonces.Get([]byte(request.Nonce)) != nil {
			return ErrDuplicate
		}

		if err := requests.Put([]byte(request.PaymentID), data); err != nil {
			return err
		}
		return nonces.Put([]byte(request.Nonce), []byte(request.PaymentID))
	})
}

// Get returns the issued request for a payment id.
func (s *BoltStore) Get(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	var request *types.PaymentRequest

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(requestsBucket)).Get([]byte(paymentID))
		if data == nil {
			return ErrNotFound
		}
		request = &types.PaymentRequest{}
		return json.Unmarshal(data, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Consume returns and deletes the issued request in one write transaction.
func (s *BoltStore) Consume(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	var request *types.PaymentRequest

	err := s.db.Update(func(tx *bolt.Tx) error {
		requests := tx.Bucket([]byte(requestsBucket))
		data := requests.Get([]byte(paymentID))
		if data == nil {
			return ErrNotFound
		}
		request = &types.PaymentRequest{}
		if err := json.Unmarshal(data, request); err != nil {
			return err
		}
		return requests.Delete([]byte(paymentID))
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// PurgeExpired deletes every request expired at now, keeping the nonce
// records so an expired nonce cannot be reissued.
func (s *BoltStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		requests := tx.Bucket([]byte(requestsBucket))

		var expired [][]byte
		err := requests.ForEach(func(k, v []byte) error {
			var request types.PaymentRequest
			if err := json.Unmarshal(v, &request); err != nil {
				return err
			}
			if request.IsExpired(now) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range expired {
			if err := requests.Delete(key); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

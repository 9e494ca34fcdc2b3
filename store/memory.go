package store

import (
	"context"
	"sync"
	"time"

	"github.com/raid-guild/x402-go/types"
)

// MemoryStore is an in-memory RequestStore. Lookups, inserts, and consumes
// on the same payment id serialize on the store mutex, so two concurrent
// Consume calls for one id cannot both succeed.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*types.PaymentRequest
	nonces   map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*types.PaymentRequest),
		nonces:   make(map[string]struct{}),
	}
}

// Put records an issued request, rejecting duplicate payment ids and nonces.
func (s *MemoryStore) Put(ctx context.Context, request *types.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[request.PaymentID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.nonces[request.Nonce]; ok {
		return ErrDuplicate
	}

	stored := *request
	s.requests[request.PaymentID] = &stored
	s.nonces[request.Nonce] = struct{}{}
	return nil
}

// Get returns the issued request for a payment id.
func (s *MemoryStore) Get(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *request
	return &copied, nil
}

// Consume returns and deletes the issued request in one critical section.
func (s *MemoryStore) Consume(ctx context.Context, paymentID string) (*types.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.requests, paymentID)
	copied := *request
	return &copied, nil
}

// PurgeExpired deletes every request expired at now. Nonces of purged
// requests stay recorded so an expired nonce cannot be reissued.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, request := range s.requests {
		if request.IsExpired(now) {
			delete(s.requests, id)
			purged++
		}
	}
	return purged, nil
}

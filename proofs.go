package x402

import (
	"context"
	"sync"
	"time"
)

// InMemoryProofStore records consumed proofs in process memory and tracks
// in-flight verifications so that concurrent submissions of one proof are
// decided one at a time.
type InMemoryProofStore struct {
	mu       sync.Mutex
	consumed map[string]time.Time
	inFlight map[string]chan struct{}
	minTTL   time.Duration
	now      func() time.Time
}

// ProofStoreOption configures an InMemoryProofStore
type ProofStoreOption func(*InMemoryProofStore)

// WithMinRetention keeps consumed proofs for at least d, even when the
// committed horizon is earlier. Proofs committed without a horizon are kept forever.
func WithMinRetention(d time.Duration) ProofStoreOption {
	return func(s *InMemoryProofStore) {
		s.minTTL = d
	}
}

// withClock is used by tests
func withClock(now func() time.Time) ProofStoreOption {
	return func(s *InMemoryProofStore) {
		s.now = now
	}
}

// NewInMemoryProofStore creates an empty store. Consumed proofs are kept for
// at least one hour by default.
func NewInMemoryProofStore(opts ...ProofStoreOption) *InMemoryProofStore {
	s := &InMemoryProofStore{
		consumed: make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		minTTL:   time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire atomically checks the key and marks it in-flight if it is free.
func (s *InMemoryProofStore) Acquire(ctx context.Context, key string) (ProofStatus, error) {
	if err := ctx.Err(); err != nil {
		return ProofInFlight, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, exists := s.consumed[key]; exists {
		if expiry.IsZero() || s.now().Before(expiry) {
			return ProofConsumed, nil
		}
		delete(s.consumed, key)
	}

	if _, exists := s.inFlight[key]; exists {
		return ProofInFlight, nil
	}

	s.inFlight[key] = make(chan struct{})
	return ProofAcquired, nil
}

// Wait blocks until the in-flight verification of key finishes, respecting context cancellation.
// Returns immediately if the key is not in flight.
func (s *InMemoryProofStore) Wait(ctx context.Context, key string) error {
	s.mu.Lock()
	done, exists := s.inFlight[key]
	s.mu.Unlock()
	if !exists {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commit marks the key consumed until the later of until and now+minimum retention,
// or forever when until is zero, and signals any waiters.
func (s *InMemoryProofStore) Commit(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiry time.Time
	if !until.IsZero() {
		expiry = s.now().Add(s.minTTL)
		if until.After(expiry) {
			expiry = until
		}
	}
	s.consumed[key] = expiry

	if done, exists := s.inFlight[key]; exists {
		delete(s.inFlight, key)
		close(done)
	}

	s.cleanupExpiredLocked()
	return nil
}

// Release removes the in-flight marker without consuming the key,
// allowing the proof to be verified again.
func (s *InMemoryProofStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, exists := s.inFlight[key]; exists {
		delete(s.inFlight, key)
		close(done)
	}
	return nil
}

// Len reports how many consumed proofs are currently retained
func (s *InMemoryProofStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumed)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryProofStore) cleanupExpiredLocked() {
	now := s.now()
	for key, expiry := range s.consumed {
		if !expiry.IsZero() && !now.Before(expiry) {
			delete(s.consumed, key)
		}
	}
}

package reqflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// IdempotentPolicy collapses calls sharing a key into one dispatch for the
// lifetime of the record.
type IdempotentPolicy struct {
	// Key overrides the request fingerprint.
	Key string
	// TTL is how long a successful outcome is replayed after completion.
	// Nil uses the default window; zero or less releases the key on completion.
	TTL *time.Duration
	// Header, when set, sends the key to the server under this header name.
	Header string
}

// NewIdempotencyKey returns a random key suitable for IdempotentPolicy.Key.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// idempotentRecord is one pending or completed dispatch.
type idempotentRecord struct {
	done      chan struct{}
	response  *Response
	err       error
	expiresAt time.Time
}

func (r *idempotentRecord) live(now time.Time) bool {
	select {
	case <-r.done:
		return now.Before(r.expiresAt)
	default:
		return true
	}
}

// IdempotencyStore tracks in-flight and recently completed dispatches by key.
// Failed dispatches are delivered to everyone already waiting and then
// forgotten, so only successes are replayed.
type IdempotencyStore struct {
	mu        sync.Mutex
	records   map[string]*idempotentRecord
	now       func() time.Time
	lastSweep time.Time
}

// NewIdempotencyStore returns an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		records: make(map[string]*idempotentRecord),
		now:     time.Now,
	}
}

// Do runs fn at most once per live key. Concurrent and later callers within
// the record's window receive the same outcome; shared reports whether this
// caller joined an existing record. fn runs to completion even when the
// caller that started it stops waiting, so the other callers still get its
// outcome.
func (s *IdempotencyStore) Do(ctx context.Context, key string, ttl *time.Duration, fn func() (*Response, error)) (*Response, bool, error) {
	s.mu.Lock()
	s.sweepLocked()

	if record, ok := s.records[key]; ok && record.live(s.now()) {
		s.mu.Unlock()

		resp, err := record.wait(ctx)

		return resp, true, err
	}

	record := &idempotentRecord{done: make(chan struct{})}
	s.records[key] = record
	s.mu.Unlock()

	go s.complete(key, record, ttl, fn)

	resp, err := record.wait(ctx)

	return resp, false, err
}

func (s *IdempotencyStore) complete(key string, record *idempotentRecord, ttl *time.Duration, fn func() (*Response, error)) {
	resp, err := s.run(fn)

	window := constants.DefaultIdempotencyTTL
	if ttl != nil {
		window = *ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.response = resp
	record.err = err
	record.expiresAt = s.now().Add(window)

	if (err != nil || window <= 0) && s.records[key] == record {
		delete(s.records, key)
	}

	close(record.done)
}

func (s *IdempotencyStore) run(fn func() (*Response, error)) (resp *Response, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			resp = nil
			err = fmt.Errorf("%w: %v", ErrDispatchPanic, recovered)
		}
	}()

	return fn()
}

func (r *idempotentRecord) wait(ctx context.Context) (*Response, error) {
	select {
	case <-r.done:
		return r.response.Clone(), r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for idempotent dispatch: %w", ctx.Err())
	}
}

// Forget drops the record for key so the next call dispatches again.
func (s *IdempotencyStore) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
}

// Clear drops every record.
func (s *IdempotencyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*idempotentRecord)
}

// Len returns the number of live records.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0

	for _, record := range s.records {
		if record.live(now) {
			count++
		}
	}

	return count
}

// sweepLocked drops expired records, at most once per cleanup interval.
func (s *IdempotencyStore) sweepLocked() {
	now := s.now()
	if now.Sub(s.lastSweep) < constants.DefaultCacheCleanupInterval {
		return
	}

	s.lastSweep = now

	for key, record := range s.records {
		if !record.live(now) {
			delete(s.records, key)
		}
	}
}

// idempotencyLayer routes a call through the store. It never reads the
// response cache.
type idempotencyLayer struct {
	next    Adapter
	policy  IdempotentPolicy
	store   *IdempotencyStore
	logger  Logger
	metrics Metrics
}

func (l *idempotencyLayer) Dispatch(ctx context.Context, config *RequestConfig) (*Response, error) {
	key, err := policyKey(l.policy.Key, config)
	if err != nil {
		return nil, err
	}

	if l.policy.Header != "" {
		config = config.Clone()
		config.Headers.Set(l.policy.Header, key)
	}

	detached := context.WithoutCancel(ctx)

	resp, joined, err := l.store.Do(ctx, key, l.policy.TTL, func() (*Response, error) {
		return l.next.Dispatch(detached, config)
	})

	if joined {
		l.metrics.DeduplicationHit()
		l.logger.Debug("joined idempotent dispatch", map[string]interface{}{
			"key": key,
		})
	}

	return resp, err
}

// ABOUTME: Advisory edit leases with lazy expiry
// ABOUTME: Lease records live in BadgerDB with a TTL, liveness uses the injected clock

package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/nainya/artifactstore/pkg/storage"
)

// PREFIX_LEASE keys (artifactID) -> lease record
const PREFIX_LEASE = uint32(6400)

// expiryGrace keeps records on disk a little past expiry so Badger's own
// TTL never removes a lease the clock still considers live
const expiryGrace = time.Minute

const lockStripes = 64

var (
	// ErrLeaseHeld indicates a live lease belongs to another holder
	ErrLeaseHeld = errors.New("lease: held by another editor")

	// ErrLeaseNotHeld indicates the caller does not hold a live lease
	ErrLeaseNotHeld = errors.New("lease: not held")

	// ErrInvalidTTL indicates a non-positive lease duration
	ErrInvalidTTL = errors.New("lease: ttl must be positive")
)

// Lease grants advisory edit rights on one artifact until ExpiresAt
type Lease struct {
	ArtifactID string    `json:"artifact_id"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Live reports whether the lease is still in force at now
func (l *Lease) Live(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// HeldError carries the lease that blocked an acquire
type HeldError struct {
	Lease *Lease
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lease: artifact %s locked by %s until %s",
		e.Lease.ArtifactID, e.Lease.HolderID, e.Lease.ExpiresAt.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error {
	return ErrLeaseHeld
}

// Manager coordinates edit leases. Leases never gate writes.
type Manager struct {
	db    *storage.DB
	now   func() time.Time
	log   zerolog.Logger
	locks [lockStripes]sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the lease logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a lease manager on db
func NewManager(db *storage.DB, opts ...Option) *Manager {
	m := &Manager{db: db, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants a lease to holderID. A live lease held by someone else
// yields a *HeldError; the same holder renews and keeps AcquiredAt.
func (m *Manager) Acquire(ctx context.Context, artifactID, holderID string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	if artifactID == "" || holderID == "" {
		return nil, errors.New("lease: artifact id and holder id are required")
	}

	mu := m.lockFor(artifactID)
	mu.Lock()
	defer mu.Unlock()

	var granted *Lease
	err := m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		now := m.now().UTC()
		current, err := readLease(txn, artifactID)
		if err != nil {
			return err
		}

		acquiredAt := now
		if current.Live(now) {
			if current.HolderID != holderID {
				return &HeldError{Lease: current}
			}
			acquiredAt = current.AcquiredAt
		}

		l := &Lease{
			ArtifactID: artifactID,
			HolderID:   holderID,
			AcquiredAt: acquiredAt,
			ExpiresAt:  now.Add(ttl),
		}
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode lease: %w", err)
		}

		entry := badger.NewEntry(leaseKey(artifactID), data).WithTTL(ttl + expiryGrace)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		granted = l
		return nil
	})
	if err != nil {
		var held *HeldError
		if errors.As(err, &held) {
			m.log.Debug().
				Str("artifact_id", artifactID).
				Str("holder_id", holderID).
				Str("blocked_by", held.Lease.HolderID).
				Msg("lease held")
		}
		return nil, err
	}

	m.log.Debug().
		Str("artifact_id", artifactID).
		Str("holder_id", holderID).
		Time("expires_at", granted.ExpiresAt).
		Msg("lease granted")
	return granted, nil
}

// Heartbeat extends holderID's lease. It is the same operation as a
// re-acquire by the holder.
func (m *Manager) Heartbeat(ctx context.Context, artifactID, holderID string, ttl time.Duration) (*Lease, error) {
	return m.Acquire(ctx, artifactID, holderID, ttl)
}

// Release drops holderID's live lease or returns ErrLeaseNotHeld
func (m *Manager) Release(ctx context.Context, artifactID, holderID string) error {
	mu := m.lockFor(artifactID)
	mu.Lock()
	defer mu.Unlock()

	err := m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		current, err := readLease(txn, artifactID)
		if err != nil {
			return err
		}
		if !current.Live(m.now()) || current.HolderID != holderID {
			return fmt.Errorf("%w: artifact %s by %s", ErrLeaseNotHeld, artifactID, holderID)
		}
		return txn.Delete(leaseKey(artifactID))
	})
	if err != nil {
		return err
	}

	m.log.Debug().Str("artifact_id", artifactID).Str("holder_id", holderID).Msg("lease released")
	return nil
}

// Get returns the live lease on the artifact, or nil when there is none
func (m *Manager) Get(ctx context.Context, artifactID string) (*Lease, error) {
	var current *Lease
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		current, err = readLease(txn, artifactID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !current.Live(m.now()) {
		return nil, nil
	}
	return current, nil
}

func (m *Manager) lockFor(artifactID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(artifactID))
	return &m.locks[h.Sum32()%lockStripes]
}

func readLease(txn *badger.Txn, artifactID string) (*Lease, error) {
	data, ok, err := storage.GetValue(txn, leaseKey(artifactID))
	if err != nil || !ok {
		return nil, err
	}
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &l, nil
}

func leaseKey(artifactID string) []byte {
	return storage.EncodeKey(PREFIX_LEASE, storage.NewStringValue(artifactID))
}

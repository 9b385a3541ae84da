// Package lockservice provides fleet-wide mutual exclusion over a store
// that only offers create-if-absent semantics.
//
// The lock is a single record with a fixed id in the lock collection.
// Creating it is the acquire, deleting it is the release. A conflicting create
// means another process holds the lock.
package lockservice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger"
	"github.com/getpup/docledger/internal/logging"
	"github.com/getpup/docledger/metrics"
	"github.com/getpup/docledger/store"
	"github.com/getpup/pupsourcing/es"
)

const (
	// DefaultMaxWait is how long Acquire waits for the lock.
	DefaultMaxWait = 5 * time.Minute

	// DefaultPollInterval is how often Acquire retries.
	DefaultPollInterval = 10 * time.Second

	// writeTimeout bounds the lock writes that no longer follow the caller's
	// context.
	writeTimeout = 30 * time.Second
)

// Config holds configuration for the Service.
type Config struct {
	// Store persists the lock record (required).
	Store store.LockStore

	// Collection is the lock collection name (default: databasechangeloglock).
	Collection string

	// Identity is written to the lock record (default: Identity("")).
	Identity string

	// MaxWait is the wait budget used by Acquire (default: 5m).
	MaxWait time.Duration

	// PollInterval is the retry interval used by Acquire (default: 10s).
	PollInterval time.Duration

	// Clock drives the wait loop (default: wall clock).
	Clock clock.Clock

	// Logger is for observability (optional).
	Logger es.Logger
}

// Service is the lock coordination service.
// It is safe for concurrent use. Concurrent callers on the same Service share
// the held lock.
type Service struct {
	config  Config
	metrics *metrics.Collector

	mu            sync.Mutex
	exists        bool
	schemaApplied bool
	hasLock       bool
}

// New creates a new Service with the given configuration.
// Applies default values for zero fields.
func New(cfg Config) *Service {
	if cfg.Collection == "" {
		_, cfg.Collection = docledger.CollectionNames("")
	}
	if cfg.Identity == "" {
		cfg.Identity = Identity("")
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Service{
		config:  cfg,
		metrics: metrics.NewCollector(cfg.Collection),
	}
}

// Collection returns the name of the lock collection.
func (s *Service) Collection() string {
	return s.config.Collection
}

// Init ensures the lock collection exists and its schema is applied.
// Both checks are cached until Reset.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.init(ctx)
}

func (s *Service) init(ctx context.Context) error {
	if !s.exists {
		if err := s.ensureCollection(ctx); err != nil {
			return err
		}
		s.exists = true
	}

	if !s.schemaApplied {
		if err := s.config.Store.ApplySchema(ctx, s.config.Collection, docledger.LockRecordSchema); err != nil {
			return &docledger.RepositoryError{Op: "apply schema", Collection: s.config.Collection, Err: err}
		}
		s.schemaApplied = true
	}

	return nil
}

func (s *Service) ensureCollection(ctx context.Context) error {
	exists, err := s.config.Store.Exists(ctx, s.config.Collection)
	if err != nil {
		return &docledger.RepositoryError{Op: "exists", Collection: s.config.Collection, Err: err}
	}
	if exists {
		return nil
	}

	if err := s.config.Store.Create(ctx, s.config.Collection); err != nil {
		// Another process may have created it between the two calls.
		if exists, existsErr := s.config.Store.Exists(ctx, s.config.Collection); existsErr == nil && exists {
			return nil
		}
		return &docledger.RepositoryError{Op: "create", Collection: s.config.Collection, Err: err}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "created lock collection", "collection", s.config.Collection)
	}
	return nil
}

// HasLock reports whether this instance believes it holds the lock.
func (s *Service) HasLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasLock
}

// TryAcquire makes a single attempt to acquire the lock.
// Returns true if the lock is now held by this instance, including when it
// already was. Returns false, nil when another process holds it.
func (s *Service) TryAcquire(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLock {
		return true, nil
	}

	if err := s.init(ctx); err != nil {
		s.metrics.IncLockAttempt(metrics.ResultError)
		return false, &docledger.LockError{Op: "acquire", Err: err}
	}

	record := docledger.LockRecord{
		ID:        docledger.LockRecordID,
		GrantedAt: s.config.Clock.Now().UTC(),
		LockedBy:  s.config.Identity,
	}

	// A create abandoned halfway could land in the store after we gave up on
	// it, leaving a record that nobody releases.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := s.config.Store.CreateLock(writeCtx, s.config.Collection, record, store.VisibilityImmediate)
	if err != nil && !errors.Is(err, store.ErrConflict) && s.ownsRecord(writeCtx, record) {
		if s.config.Logger != nil {
			s.config.Logger.Info(ctx, "lock write reported an error but the record is ours", "collection", s.config.Collection, "error", err)
		}
		err = nil
	}

	switch {
	case err == nil:
		s.hasLock = true
		s.metrics.IncLockAttempt(metrics.ResultAcquired)
		s.metrics.SetLockHeld(true)
		if s.config.Logger != nil {
			s.config.Logger.Info(ctx, "successfully acquired change log lock", "collection", s.config.Collection, "lockedBy", record.LockedBy)
		}
		return true, nil

	case errors.Is(err, store.ErrConflict):
		s.metrics.IncLockAttempt(metrics.ResultConflict)
		if s.config.Logger != nil {
			s.config.Logger.Debug(ctx, "change log lock is held by another process", "collection", s.config.Collection)
		}
		return false, nil

	default:
		s.hasLock = false
		s.metrics.IncLockAttempt(metrics.ResultError)
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "failed to acquire change log lock", "collection", s.config.Collection, "error", err)
		}
		return false, &docledger.LockError{Op: "acquire", Err: err}
	}
}

// ownsRecord reports whether the stored lock record is the one written for
// this attempt. Timestamps are compared to the second since some SQL
// backends do not keep sub-second precision.
func (s *Service) ownsRecord(ctx context.Context, record docledger.LockRecord) bool {
	locks, err := s.config.Store.QueryLocks(ctx, s.config.Collection)
	if err != nil {
		return false
	}
	for _, l := range locks {
		if l.LockedBy != record.LockedBy {
			continue
		}
		diff := l.GrantedAt.Sub(record.GrantedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff < time.Second {
			return true
		}
	}
	return false
}

// Acquire waits for the lock using the configured wait budget and poll
// interval.
func (s *Service) Acquire(ctx context.Context) error {
	return s.WaitForLock(ctx, s.config.MaxWait, s.config.PollInterval)
}

// WaitForLock retries TryAcquire until it succeeds, maxWait elapses or ctx is
// cancelled. Between attempts it sleeps for pollInterval, shortened so that
// the last attempt happens at the deadline. Non-positive arguments fall back
// to the configured defaults.
//
// Returns *docledger.LockTimeoutError when the budget is exhausted, the
// acquisition error when an attempt fails, and ctx.Err() on cancellation.
func (s *Service) WaitForLock(ctx context.Context, maxWait, pollInterval time.Duration) error {
	if maxWait <= 0 {
		maxWait = s.config.MaxWait
	}
	if pollInterval <= 0 {
		pollInterval = s.config.PollInterval
	}

	start := s.config.Clock.Now()
	deadline := start.Add(maxWait)

	for {
		acquired, err := s.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			s.metrics.ObserveLockWait(s.config.Clock.Since(start).Seconds())
			return nil
		}

		remaining := deadline.Sub(s.config.Clock.Now())
		if remaining <= 0 {
			break
		}
		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}

		if s.config.Logger != nil {
			s.config.Logger.Info(ctx, "waiting for change log lock", "collection", s.config.Collection, "retryIn", sleep)
		}

		timer := s.config.Clock.Timer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.metrics.IncLockTimeouts()
	s.metrics.ObserveLockWait(s.config.Clock.Since(start).Seconds())
	return s.timeoutError(ctx, maxWait, pollInterval)
}

// timeoutError describes the current holder. A failure to read the lock
// record downgrades the holder to UNKNOWN.
func (s *Service) timeoutError(ctx context.Context, maxWait, pollInterval time.Duration) error {
	timeoutErr := &docledger.LockTimeoutError{
		LockedBy:   docledger.UnknownLockHolder,
		Waited:     maxWait,
		RetryAfter: pollInterval,
	}

	locks, err := s.ListLocks(ctx)
	if err != nil {
		logging.Warn(ctx, s.config.Logger, "failed to read change log lock holder", "collection", s.config.Collection, "error", err)
	}
	if len(locks) > 0 && locks[0].LockedBy != "" {
		timeoutErr.LockedBy = locks[0].LockedBy
		timeoutErr.GrantedAt = locks[0].GrantedAt
	}

	if s.config.Logger != nil {
		s.config.Logger.Error(ctx, "timed out waiting for change log lock", "collection", s.config.Collection, "lockedBy", timeoutErr.LockedBy, "waited", maxWait)
	}
	return timeoutErr
}

// Release deletes the lock record if the collection exists.
// The local held flag is cleared even when the delete fails.
func (s *Service) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.release(ctx)
}

func (s *Service) release(ctx context.Context) error {
	defer func() {
		s.hasLock = false
		s.metrics.SetLockHeld(false)
	}()

	exists, err := s.config.Store.Exists(ctx, s.config.Collection)
	if err != nil {
		return &docledger.LockError{Op: "release", Err: err}
	}
	if !exists {
		return nil
	}

	if err := s.config.Store.DeleteLock(ctx, s.config.Collection, docledger.LockRecordID, store.VisibilityImmediate); err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "failed to release change log lock", "collection", s.config.Collection, "error", err)
		}
		return &docledger.LockError{Op: "release", Err: err}
	}

	s.metrics.IncLockReleases()
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "successfully released change log lock", "collection", s.config.Collection)
	}
	return nil
}

// ForceRelease removes the lock regardless of who holds it.
func (s *Service) ForceRelease(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.init(ctx); err != nil {
		return &docledger.LockError{Op: "force release", Err: err}
	}
	logging.Warn(ctx, s.config.Logger, "forcing release of change log lock", "collection", s.config.Collection)
	return s.release(ctx)
}

// ListLocks returns the current lock records. The result is empty when the
// collection does not exist.
func (s *Service) ListLocks(ctx context.Context) ([]docledger.LockRecord, error) {
	exists, err := s.config.Store.Exists(ctx, s.config.Collection)
	if err != nil {
		return nil, &docledger.LockError{Op: "list", Err: err}
	}
	if !exists {
		return []docledger.LockRecord{}, nil
	}

	locks, err := s.config.Store.QueryLocks(ctx, s.config.Collection)
	if err != nil {
		return nil, &docledger.LockError{Op: "list", Err: err}
	}
	return locks, nil
}

// Reset forgets the cached collection state and the held flag.
// It does not touch the store.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exists = false
	s.schemaApplied = false
	s.hasLock = false
	s.metrics.SetLockHeld(false)
}

// Destroy drops the lock collection and resets the service.
func (s *Service) Destroy(ctx context.Context) error {
	exists, err := s.config.Store.Exists(ctx, s.config.Collection)
	if err != nil {
		return &docledger.RepositoryError{Op: "exists", Collection: s.config.Collection, Err: err}
	}
	if exists {
		if err := s.config.Store.Drop(ctx, s.config.Collection); err != nil {
			return &docledger.RepositoryError{Op: "drop", Collection: s.config.Collection, Err: err}
		}
	}

	s.Reset()
	return nil
}

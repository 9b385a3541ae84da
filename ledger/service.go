// Package ledger records which change sets have run, in what order and with
// which checksum.
//
// Entries are keyed by the change set identifier, so recording a change set
// again overwrites the previous entry. The store offers no transactions:
// callers serialize mutations by holding the change log lock.
package ledger

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger"
	"github.com/getpup/docledger/checksum"
	"github.com/getpup/docledger/internal/logging"
	"github.com/getpup/docledger/metrics"
	"github.com/getpup/docledger/store"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
)

// DefaultToolVersion is recorded on entries when no version is configured.
const DefaultToolVersion = "docledger"

// Operation names used in errors and metrics.
const (
	OpInit           = "init"
	OpSequence       = "sequence"
	OpMarkRun        = "mark_run"
	OpRemoveRun      = "remove_run"
	OpUpdateChecksum = "update_checksum"
	OpClearChecksums = "clear_checksums"
	OpCountTags      = "count_tags"
	OpList           = "list"
	OpTag            = "tag"
)

// Config holds configuration for the Service.
type Config struct {
	// Store persists the ledger entries (required).
	Store store.LedgerStore

	// Collection is the ledger collection name (default: databasechangelog).
	Collection string

	// ToolVersion is written to every entry (default: "docledger").
	ToolVersion string

	// Clock stamps executedAt (default: wall clock).
	Clock clock.Clock

	// Logger is for observability (optional).
	Logger es.Logger
}

// Service is the change set ledger service. It is safe for concurrent use.
type Service struct {
	config  Config
	metrics *metrics.Collector

	mu            sync.Mutex
	exists        bool
	schemaApplied bool
	sequenceSet   bool
	lastSequence  int
	deploymentID  string
}

// New creates a new Service with the given configuration.
// Applies default values for zero fields.
func New(cfg Config) *Service {
	if cfg.Collection == "" {
		cfg.Collection, _ = docledger.CollectionNames("")
	}
	if cfg.ToolVersion == "" {
		cfg.ToolVersion = DefaultToolVersion
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Service{
		config:       cfg,
		metrics:      metrics.NewCollector(cfg.Collection),
		deploymentID: uuid.NewString(),
	}
}

// Collection returns the name of the ledger collection.
func (s *Service) Collection() string {
	return s.config.Collection
}

// SetDeploymentID sets the deployment id recorded on subsequent entries.
func (s *Service) SetDeploymentID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deploymentID = id
}

// DeploymentID returns the deployment id recorded on new entries.
func (s *Service) DeploymentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deploymentID
}

// Init ensures the ledger collection exists and its schema is applied.
// Both checks are cached until Reset.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.init(ctx)
}

func (s *Service) init(ctx context.Context) error {
	if !s.exists {
		exists, err := s.config.Store.Exists(ctx, s.config.Collection)
		if err != nil {
			return &docledger.RepositoryError{Op: "exists", Collection: s.config.Collection, Err: err}
		}
		if !exists {
			if err := s.config.Store.Create(ctx, s.config.Collection); err != nil {
				if again, againErr := s.config.Store.Exists(ctx, s.config.Collection); againErr != nil || !again {
					return &docledger.RepositoryError{Op: "create", Collection: s.config.Collection, Err: err}
				}
			} else if s.config.Logger != nil {
				s.config.Logger.Info(ctx, "created ledger collection", "collection", s.config.Collection)
			}
		}
		s.exists = true
	}

	if !s.schemaApplied {
		if err := s.config.Store.ApplySchema(ctx, s.config.Collection, docledger.LedgerEntrySchema); err != nil {
			return &docledger.RepositoryError{Op: "apply schema", Collection: s.config.Collection, Err: err}
		}
		s.schemaApplied = true
	}

	return nil
}

func (s *Service) ensureInit(ctx context.Context, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.init(ctx); err != nil {
		return s.fail(ctx, op, err)
	}
	return nil
}

// GenerateNextSequence returns the highest orderExecuted recorded so far,
// rounded down, or 0 when the ledger is empty. It issues a single max
// aggregation.
func (s *Service) GenerateNextSequence(ctx context.Context) (int, error) {
	if err := s.ensureInit(ctx, OpSequence); err != nil {
		return 0, err
	}

	max, ok, err := s.config.Store.MaxOrderExecuted(ctx, s.config.Collection)
	if err != nil {
		return 0, s.fail(ctx, OpSequence, err)
	}
	if !ok {
		return 0, nil
	}
	return int(math.Floor(max)), nil
}

// NextSequenceValue returns the orderExecuted to use for the next entry.
// The first call reads GenerateNextSequence, later calls increment a cached
// counter until Reset or ResetSequence.
func (s *Service) NextSequenceValue(ctx context.Context) (int, error) {
	s.mu.Lock()
	loaded := s.sequenceSet
	s.mu.Unlock()

	if !loaded {
		seq, err := s.GenerateNextSequence(ctx)
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		if !s.sequenceSet {
			s.lastSequence = seq
			s.sequenceSet = true
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSequence++
	return s.lastSequence, nil
}

// MarkRun records the change set with the next sequence value.
func (s *Service) MarkRun(ctx context.Context, cs docledger.ChangeSet, execType docledger.ExecType) (docledger.LedgerEntry, error) {
	seq, err := s.NextSequenceValue(ctx)
	if err != nil {
		return docledger.LedgerEntry{}, err
	}
	return s.MarkChangeSetRun(ctx, cs, execType, seq)
}

// MarkChangeSetRun writes the ledger entry for cs with the given
// orderExecuted, overwriting any previous entry for the same change set.
// The write is visible to subsequent reads when this returns.
func (s *Service) MarkChangeSetRun(ctx context.Context, cs docledger.ChangeSet, execType docledger.ExecType, sequence int) (docledger.LedgerEntry, error) {
	if err := s.ensureInit(ctx, OpMarkRun); err != nil {
		return docledger.LedgerEntry{}, err
	}

	sum, err := checksum.ForChangeSet(cs, checksum.Latest)
	if err != nil {
		return docledger.LedgerEntry{}, s.fail(ctx, OpMarkRun, err)
	}

	entry := s.newEntry(cs, execType, sequence, sum)
	if err := s.config.Store.PutEntry(ctx, s.config.Collection, entry, store.VisibilityImmediate); err != nil {
		return docledger.LedgerEntry{}, s.fail(ctx, OpMarkRun, err)
	}

	s.metrics.IncLedgerWrites(OpMarkRun)
	s.metrics.IncChangeSets(string(execType))
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "marked change set", "changeSet", entry.ID, "execType", execType, "orderExecuted", sequence)
	}
	return entry, nil
}

func (s *Service) newEntry(cs docledger.ChangeSet, execType docledger.ExecType, sequence int, sum docledger.CheckSum) docledger.LedgerEntry {
	storedPath := cs.StoredFilePath
	if storedPath == "" {
		storedPath = cs.FilePath
	}

	return docledger.LedgerEntry{
		ID:                  cs.Identifier(),
		ChangeLogPath:       cs.FilePath,
		StoredChangeLogPath: storedPath,
		Author:              cs.Author,
		CheckSum:            &sum,
		ExecutedAt:          s.config.Clock.Now().UTC(),
		ExecType:            execType,
		Description:         cs.Description,
		Comments:            cs.Comments,
		OrderExecuted:       sequence,
		ContextExpression:   cs.Contexts,
		Labels:              cs.Labels,
		DeploymentID:        s.DeploymentID(),
		ToolVersion:         s.config.ToolVersion,
	}
}

// RemoveRun deletes the entry of the change set. A missing entry is not an
// error.
func (s *Service) RemoveRun(ctx context.Context, cs docledger.ChangeSet) error {
	if err := s.ensureInit(ctx, OpRemoveRun); err != nil {
		return err
	}

	if err := s.config.Store.DeleteEntry(ctx, s.config.Collection, cs.Identifier(), store.VisibilityImmediate); err != nil {
		return s.fail(ctx, OpRemoveRun, err)
	}

	s.metrics.IncLedgerWrites(OpRemoveRun)
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "removed change set from ledger", "changeSet", cs.Identifier())
	}
	return nil
}

// UpdateChecksum recomputes the checksum of the change set, using the version
// of its stored checksum or the latest version, and replaces only the
// checksum of its entry.
func (s *Service) UpdateChecksum(ctx context.Context, cs docledger.ChangeSet) error {
	if err := s.ensureInit(ctx, OpUpdateChecksum); err != nil {
		return err
	}

	sum, err := checksum.ForChangeSet(cs, checksum.VersionOf(cs))
	if err != nil {
		return s.fail(ctx, OpUpdateChecksum, err)
	}

	if err := s.config.Store.UpdateCheckSum(ctx, s.config.Collection, cs.Identifier(), &sum, store.VisibilityImmediate); err != nil {
		return s.fail(ctx, OpUpdateChecksum, err)
	}

	s.metrics.IncLedgerWrites(OpUpdateChecksum)
	return nil
}

// ClearAllChecksums nulls the checksum of every entry in one bulk update.
func (s *Service) ClearAllChecksums(ctx context.Context) error {
	if err := s.ensureInit(ctx, OpClearChecksums); err != nil {
		return err
	}

	if err := s.config.Store.ClearCheckSums(ctx, s.config.Collection, store.VisibilityImmediate); err != nil {
		return s.fail(ctx, OpClearChecksums, err)
	}

	s.metrics.IncLedgerWrites(OpClearChecksums)
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "cleared all checksums", "collection", s.config.Collection)
	}
	return nil
}

// CountTags returns the number of entries tagged exactly tag.
func (s *Service) CountTags(ctx context.Context, tag string) (int64, error) {
	if err := s.ensureInit(ctx, OpCountTags); err != nil {
		return 0, err
	}

	n, err := s.config.Store.CountTag(ctx, s.config.Collection, tag)
	if err != nil {
		return 0, s.fail(ctx, OpCountTags, err)
	}
	return n, nil
}

// TagExists reports whether any entry is tagged tag.
func (s *Service) TagExists(ctx context.Context, tag string) (bool, error) {
	n, err := s.CountTags(ctx, tag)
	return n > 0, err
}

// ListRanChangeSets returns every entry in no particular order.
// Use docledger.SortByExecution to order them.
func (s *Service) ListRanChangeSets(ctx context.Context) ([]docledger.LedgerEntry, error) {
	if err := s.ensureInit(ctx, OpList); err != nil {
		return nil, err
	}

	entries, err := s.config.Store.ListEntries(ctx, s.config.Collection)
	if err != nil {
		return nil, s.fail(ctx, OpList, err)
	}
	return entries, nil
}

// CountRanChangeSets returns the number of entries in the ledger.
func (s *Service) CountRanChangeSets(ctx context.Context) (int64, error) {
	entries, err := s.ListRanChangeSets(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

// GetRanChangeSet returns the entry of the change set, if it ran.
func (s *Service) GetRanChangeSet(ctx context.Context, cs docledger.ChangeSet) (docledger.LedgerEntry, bool, error) {
	if err := s.ensureInit(ctx, OpList); err != nil {
		return docledger.LedgerEntry{}, false, err
	}

	entry, err := s.config.Store.GetEntry(ctx, s.config.Collection, cs.Identifier())
	if errors.Is(err, store.ErrEntryNotFound) {
		return docledger.LedgerEntry{}, false, nil
	}
	if err != nil {
		return docledger.LedgerEntry{}, false, s.fail(ctx, OpList, err)
	}
	return entry, true, nil
}

// TagLast tags the most recently executed entry. Tagging an empty ledger
// logs a warning and does nothing. Concurrent taggers are not detected: the
// caller must hold the change log lock.
func (s *Service) TagLast(ctx context.Context, tag string) error {
	if err := s.ensureInit(ctx, OpTag); err != nil {
		return err
	}

	id, ok, err := s.config.Store.LatestEntryID(ctx, s.config.Collection)
	if err != nil {
		return s.fail(ctx, OpTag, err)
	}
	if !ok {
		logging.Warn(ctx, s.config.Logger, "cannot tag an empty ledger", "collection", s.config.Collection, "tag", tag)
		return nil
	}

	if err := s.config.Store.SetTag(ctx, s.config.Collection, id, tag, store.VisibilityImmediate); err != nil {
		return s.fail(ctx, OpTag, err)
	}

	s.metrics.IncLedgerWrites(OpTag)
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "tagged ledger", "changeSet", id, "tag", tag)
	}
	return nil
}

// Reset forgets the cached collection state and sequence counter.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exists = false
	s.schemaApplied = false
	s.sequenceSet = false
	s.lastSequence = 0
}

// ResetSequence forgets the cached sequence counter so the next
// NextSequenceValue reads the ledger again. Other processes may have written
// entries since the counter was loaded, so call it whenever the change log
// lock is (re)acquired.
func (s *Service) ResetSequence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequenceSet = false
	s.lastSequence = 0
}

// Destroy drops the ledger collection and resets the service.
func (s *Service) Destroy(ctx context.Context) error {
	exists, err := s.config.Store.Exists(ctx, s.config.Collection)
	if err != nil {
		return &docledger.RepositoryError{Op: "exists", Collection: s.config.Collection, Err: err}
	}
	if exists {
		if err := s.config.Store.Drop(ctx, s.config.Collection); err != nil {
			return &docledger.RepositoryError{Op: "drop", Collection: s.config.Collection, Err: err}
		}
		if s.config.Logger != nil {
			s.config.Logger.Info(ctx, "dropped ledger collection", "collection", s.config.Collection)
		}
	}

	s.Reset()
	return nil
}

func (s *Service) fail(ctx context.Context, op string, err error) error {
	s.metrics.IncLedgerErrors(op)
	if s.config.Logger != nil {
		s.config.Logger.Error(ctx, "ledger operation failed", "operation", op, "collection", s.config.Collection, "error", err)
	}
	return &docledger.LedgerError{Op: op, Err: err}
}

// Package coordinator drives migration runs: it takes the change log lock,
// compares the change log with the ledger, executes what is pending and
// records the outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger"
	"github.com/getpup/docledger/checksum"
	"github.com/getpup/docledger/executor"
	"github.com/getpup/docledger/lockservice"
	"github.com/getpup/docledger/metrics"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Locker is the part of the lock service the coordinator uses.
// *lockservice.Service implements it.
type Locker interface {
	WaitForLock(ctx context.Context, maxWait, pollInterval time.Duration) error
	Release(ctx context.Context) error
	ForceRelease(ctx context.Context) error
	ListLocks(ctx context.Context) ([]docledger.LockRecord, error)
	Destroy(ctx context.Context) error
}

// History is the part of the ledger service the coordinator uses.
// *ledger.Service implements it.
type History interface {
	SetDeploymentID(id string)
	ResetSequence()
	ListRanChangeSets(ctx context.Context) ([]docledger.LedgerEntry, error)
	MarkRun(ctx context.Context, cs docledger.ChangeSet, execType docledger.ExecType) (docledger.LedgerEntry, error)
	RemoveRun(ctx context.Context, cs docledger.ChangeSet) error
	UpdateChecksum(ctx context.Context, cs docledger.ChangeSet) error
	ClearAllChecksums(ctx context.Context) error
	TagLast(ctx context.Context, tag string) error
	TagExists(ctx context.Context, tag string) (bool, error)
	Destroy(ctx context.Context) error
}

// Config holds configuration for the Coordinator.
type Config struct {
	// Locker serializes runs across processes (required).
	Locker Locker

	// History is the change set ledger (required).
	History History

	// Runner executes changes (required for Update and rollbacks).
	Runner executor.Runner

	// MaxWait is how long to wait for the lock (default: 5m).
	MaxWait time.Duration

	// PollInterval is how often to retry the lock (default: 10s).
	PollInterval time.Duration

	// Contexts selects the change sets to run. Empty runs all.
	Contexts []string

	// MetricsLabel is the collection label of the coordinator metrics
	// (default: databasechangelog).
	MetricsLabel string

	// Clock measures change set durations (default: wall clock).
	Clock clock.Clock

	// Logger is for observability (optional).
	Logger es.Logger
}

// Coordinator runs migration commands under the change log lock.
type Coordinator struct {
	config  Config
	metrics *metrics.Collector
}

// New creates a new Coordinator with the given configuration.
// Applies default values for zero fields.
func New(cfg Config) *Coordinator {
	if cfg.MaxWait == 0 {
		cfg.MaxWait = lockservice.DefaultMaxWait
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = lockservice.DefaultPollInterval
	}
	if cfg.MetricsLabel == "" {
		cfg.MetricsLabel = docledger.DefaultBaseName
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Coordinator{
		config:  cfg,
		metrics: metrics.NewCollector(cfg.MetricsLabel),
	}
}

// Action is what a command did with one change set.
type Action string

const (
	ActionExecuted        Action = "executed"
	ActionReran           Action = "reran"
	ActionFailed          Action = "failed"
	ActionMarkedRan       Action = "marked_ran"
	ActionChecksumUpdated Action = "checksum_updated"
	ActionRolledBack      Action = "rolled_back"
)

// Outcome records the action taken for one change set.
type Outcome struct {
	ChangeSet string
	Action    Action
	Duration  time.Duration

	// Err is the execution error of a change set that was allowed to fail.
	Err error
}

// Result summarises a command. Change sets that needed nothing are omitted.
type Result struct {
	DeploymentID string
	Outcomes     []Outcome
}

// Count returns the number of outcomes with the given action.
func (r Result) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// withLock runs fn while holding the change log lock. The lock is released
// even when fn fails or ctx is cancelled; a release failure is combined with
// fn's error.
func (c *Coordinator) withLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := c.config.Locker.WaitForLock(ctx, c.config.MaxWait, c.config.PollInterval); err != nil {
		return err
	}
	// The ledger may have grown while the lock was held by someone else.
	c.config.History.ResetSequence()
	defer func() {
		if releaseErr := c.config.Locker.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to release change log lock: %w", releaseErr))
		}
	}()
	return fn(ctx)
}

// planned is a change set together with its ledger entry, if any.
type planned struct {
	cs      docledger.ChangeSet
	entry   docledger.LedgerEntry
	ran     bool
	current docledger.CheckSum
}

// plan matches the change sets selected by the configured contexts with the
// ledger and validates the checksums of those that already ran. Every
// mismatch is reported.
func (c *Coordinator) plan(ctx context.Context, changeSets []docledger.ChangeSet) ([]planned, error) {
	entries, err := c.config.History.ListRanChangeSets(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]docledger.LedgerEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var (
		plan       []planned
		mismatches error
	)
	for _, cs := range changeSets {
		if !cs.Contexts.Matches(c.config.Contexts) {
			continue
		}
		p := planned{cs: cs}
		if entry, ok := byID[cs.Identifier()]; ok {
			p.entry, p.ran = entry, true
			p.cs.StoredCheckSum = entry.CheckSum
			p.current, err = checksum.ForChangeSet(p.cs, checksum.VersionOf(p.cs))
			if err != nil {
				return nil, err
			}
			if p.drifted() && !cs.RunOnChange && !cs.RunAlways {
				mismatches = multierr.Append(mismatches, &ChecksumMismatchError{
					ChangeSet: cs.Identifier(),
					Stored:    *entry.CheckSum,
					Current:   p.current,
				})
			}
		}
		plan = append(plan, p)
	}
	if mismatches != nil {
		return nil, mismatches
	}
	return plan, nil
}

// drifted reports whether the stored checksum no longer matches the
// definition. Cleared checksums and checksums of another version never
// count as drift.
func (p planned) drifted() bool {
	stored := p.entry.CheckSum
	return stored != nil && stored.Version == p.current.Version && stored.Hash != p.current.Hash
}

// stale reports whether the stored checksum should be rewritten at the
// latest version.
func (p planned) stale() bool {
	stored := p.entry.CheckSum
	return stored == nil || stored.Version != checksum.Latest
}

// Update executes every pending change set in change log order.
//
// A change set that ran before is executed again when it is runAlways, or
// when it is runOnChange and its checksum changed. A changed change set that
// is neither fails the whole run with ChecksumMismatchError before anything
// executes. A failing change set aborts the run unless it allows failure, in
// which case it is recorded as FAILED.
func (c *Coordinator) Update(ctx context.Context, changeSets []docledger.ChangeSet) (Result, error) {
	result := Result{DeploymentID: c.newDeployment()}

	err := c.withLock(ctx, func(ctx context.Context) error {
		plan, err := c.plan(ctx, changeSets)
		if err != nil {
			return err
		}

		for _, p := range plan {
			outcome, err := c.apply(ctx, p)
			if err != nil {
				return err
			}
			if outcome != nil {
				result.Outcomes = append(result.Outcomes, *outcome)
			}
		}
		return nil
	})

	if c.config.Logger != nil && err == nil {
		c.config.Logger.Info(ctx, "update complete",
			"deploymentId", result.DeploymentID,
			"executed", result.Count(ActionExecuted),
			"reran", result.Count(ActionReran),
			"failed", result.Count(ActionFailed))
	}
	return result, err
}

func (c *Coordinator) apply(ctx context.Context, p planned) (*Outcome, error) {
	id := p.cs.Identifier()

	switch {
	case !p.ran:
		return c.execute(ctx, p.cs, docledger.ExecTypeExecuted, ActionExecuted)
	case p.cs.RunAlways, p.cs.RunOnChange && p.drifted():
		return c.execute(ctx, p.cs, docledger.ExecTypeReran, ActionReran)
	case p.stale():
		cs := p.cs
		cs.StoredCheckSum = nil
		if err := c.config.History.UpdateChecksum(ctx, cs); err != nil {
			return nil, err
		}
		if c.config.Logger != nil {
			c.config.Logger.Debug(ctx, "updated stored checksum", "changeSet", id)
		}
		return &Outcome{ChangeSet: id, Action: ActionChecksumUpdated}, nil
	default:
		return nil, nil
	}
}

func (c *Coordinator) execute(ctx context.Context, cs docledger.ChangeSet, execType docledger.ExecType, action Action) (*Outcome, error) {
	id := cs.Identifier()
	if c.config.Runner == nil {
		return nil, fmt.Errorf("cannot execute %s: no runner configured", id)
	}

	start := c.config.Clock.Now()
	runErr := c.config.Runner.Execute(ctx, cs.Changes)
	elapsed := c.config.Clock.Since(start)
	c.metrics.ObserveChangeSetDuration(elapsed.Seconds())

	outcome := &Outcome{ChangeSet: id, Action: action, Duration: elapsed}
	if runErr != nil {
		if !cs.ContinueOnError {
			if c.config.Logger != nil {
				c.config.Logger.Error(ctx, "change set failed", "changeSet", id, "error", runErr)
			}
			return nil, fmt.Errorf("change set %s failed: %w", id, runErr)
		}
		if c.config.Logger != nil {
			c.config.Logger.Info(ctx, "change set failed, continuing", "changeSet", id, "error", runErr)
		}
		execType, outcome.Action, outcome.Err = docledger.ExecTypeFailed, ActionFailed, runErr
	}

	if _, err := c.config.History.MarkRun(ctx, cs, execType); err != nil {
		return nil, err
	}
	if c.config.Logger != nil && runErr == nil {
		c.config.Logger.Info(ctx, "change set ran", "changeSet", id, "execType", execType, "duration", elapsed)
	}
	return outcome, nil
}

// ChangelogSync records every pending change set as MARK_RAN without
// executing it.
func (c *Coordinator) ChangelogSync(ctx context.Context, changeSets []docledger.ChangeSet) (Result, error) {
	result := Result{DeploymentID: c.newDeployment()}

	err := c.withLock(ctx, func(ctx context.Context) error {
		plan, err := c.plan(ctx, changeSets)
		if err != nil {
			return err
		}
		for _, p := range plan {
			if p.ran {
				continue
			}
			if _, err := c.config.History.MarkRun(ctx, p.cs, docledger.ExecTypeMarkRan); err != nil {
				return err
			}
			result.Outcomes = append(result.Outcomes, Outcome{ChangeSet: p.cs.Identifier(), Action: ActionMarkedRan})
		}
		return nil
	})
	return result, err
}

// Status returns the change sets an Update would execute, in change log
// order.
func (c *Coordinator) Status(ctx context.Context, changeSets []docledger.ChangeSet) ([]docledger.ChangeSet, error) {
	plan, err := c.plan(ctx, changeSets)
	if err != nil {
		return nil, err
	}

	var pending []docledger.ChangeSet
	for _, p := range plan {
		if !p.ran || p.cs.RunAlways || (p.cs.RunOnChange && p.drifted()) {
			pending = append(pending, p.cs)
		}
	}
	return pending, nil
}

// History returns the ledger ordered by execution.
func (c *Coordinator) History(ctx context.Context) ([]docledger.LedgerEntry, error) {
	entries, err := c.config.History.ListRanChangeSets(ctx)
	if err != nil {
		return nil, err
	}
	docledger.SortByExecution(entries)
	return entries, nil
}

// Tag tags the most recently executed change set.
func (c *Coordinator) Tag(ctx context.Context, tag string) error {
	if tag == "" {
		return errors.New("tag cannot be empty")
	}
	return c.withLock(ctx, func(ctx context.Context) error {
		return c.config.History.TagLast(ctx, tag)
	})
}

// TagExists reports whether any ledger entry carries tag.
func (c *Coordinator) TagExists(ctx context.Context, tag string) (bool, error) {
	return c.config.History.TagExists(ctx, tag)
}

// RollbackCount rolls back the count most recently executed change sets,
// newest first, and removes them from the ledger.
func (c *Coordinator) RollbackCount(ctx context.Context, changeSets []docledger.ChangeSet, count int) (Result, error) {
	if count < 0 {
		return Result{}, fmt.Errorf("rollback count must not be negative (got %d)", count)
	}
	return c.rollback(ctx, changeSets, func(entries []docledger.LedgerEntry) ([]docledger.LedgerEntry, error) {
		if count > len(entries) {
			count = len(entries)
		}
		return entries[len(entries)-count:], nil
	})
}

// RollbackToTag rolls back every change set executed after the most recent
// entry carrying tag.
func (c *Coordinator) RollbackToTag(ctx context.Context, changeSets []docledger.ChangeSet, tag string) (Result, error) {
	return c.rollback(ctx, changeSets, func(entries []docledger.LedgerEntry) ([]docledger.LedgerEntry, error) {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Tag == tag {
				return entries[i+1:], nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, tag)
	})
}

func (c *Coordinator) rollback(ctx context.Context, changeSets []docledger.ChangeSet, selectEntries func([]docledger.LedgerEntry) ([]docledger.LedgerEntry, error)) (Result, error) {
	result := Result{DeploymentID: c.newDeployment()}

	byID := make(map[string]docledger.ChangeSet, len(changeSets))
	for _, cs := range changeSets {
		byID[cs.Identifier()] = cs
	}

	err := c.withLock(ctx, func(ctx context.Context) error {
		entries, err := c.History(ctx)
		if err != nil {
			return err
		}
		targets, err := selectEntries(entries)
		if err != nil {
			return err
		}

		// Check every target before undoing anything.
		for _, e := range targets {
			cs, ok := byID[e.ID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownChangeSet, e.ID)
			}
			if len(cs.Rollback) == 0 && e.ExecType != docledger.ExecTypeMarkRan {
				return fmt.Errorf("%w: %s", ErrNoRollback, e.ID)
			}
		}

		for i := len(targets) - 1; i >= 0; i-- {
			e := targets[i]
			cs := byID[e.ID]

			start := c.config.Clock.Now()
			if e.ExecType != docledger.ExecTypeMarkRan {
				if c.config.Runner == nil {
					return fmt.Errorf("cannot roll back %s: no runner configured", e.ID)
				}
				if err := c.config.Runner.Execute(ctx, cs.Rollback); err != nil {
					return fmt.Errorf("rollback of %s failed: %w", e.ID, err)
				}
			}
			if err := c.config.History.RemoveRun(ctx, cs); err != nil {
				return err
			}
			result.Outcomes = append(result.Outcomes, Outcome{
				ChangeSet: e.ID,
				Action:    ActionRolledBack,
				Duration:  c.config.Clock.Since(start),
			})
			if c.config.Logger != nil {
				c.config.Logger.Info(ctx, "rolled back change set", "changeSet", e.ID)
			}
		}
		return nil
	})
	return result, err
}

// ClearCheckSums removes the stored checksum of every entry. The next Update
// recomputes them.
func (c *Coordinator) ClearCheckSums(ctx context.Context) error {
	return c.withLock(ctx, func(ctx context.Context) error {
		return c.config.History.ClearAllChecksums(ctx)
	})
}

// ListLocks returns the current lock holders.
func (c *Coordinator) ListLocks(ctx context.Context) ([]docledger.LockRecord, error) {
	return c.config.Locker.ListLocks(ctx)
}

// ReleaseLocks removes the lock record regardless of who holds it.
func (c *Coordinator) ReleaseLocks(ctx context.Context) error {
	if err := c.config.Locker.ForceRelease(ctx); err != nil {
		return err
	}
	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "released change log lock")
	}
	return nil
}

// DropAll drops the ledger and then the lock collection. It takes the lock
// first so that no run is in progress; dropping the lock collection releases
// it.
func (c *Coordinator) DropAll(ctx context.Context) error {
	if err := c.config.Locker.WaitForLock(ctx, c.config.MaxWait, c.config.PollInterval); err != nil {
		return err
	}
	err := c.config.History.Destroy(ctx)
	if err != nil {
		// Keep the lock collection so the lock can be released normally.
		return multierr.Append(err, c.config.Locker.Release(context.WithoutCancel(ctx)))
	}
	return c.config.Locker.Destroy(ctx)
}

func (c *Coordinator) newDeployment() string {
	id := uuid.NewString()
	c.config.History.SetDeploymentID(id)
	return id
}

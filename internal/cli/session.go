package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger"
	"github.com/getpup/docledger/changelog"
	"github.com/getpup/docledger/coordinator"
	"github.com/getpup/docledger/executor"
	"github.com/getpup/docledger/internal/config"
	"github.com/getpup/docledger/internal/logging"
	"github.com/getpup/docledger/ledger"
	"github.com/getpup/docledger/lockservice"
	"github.com/getpup/docledger/metrics"
	"github.com/getpup/docledger/store"
	"github.com/getpup/docledger/store/memory"
	"github.com/getpup/docledger/store/opensearch"
	"github.com/getpup/docledger/store/sqlstore"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const metricsShutdownTimeout = 5 * time.Second

// session holds the components one command works with.
type session struct {
	config      config.Config
	logger      *logging.Logger
	locks       *lockservice.Service
	history     *ledger.Service
	coordinator *coordinator.Coordinator

	closers []func(ctx context.Context) error
}

// newSession builds the store, the services and the coordinator from the
// loaded configuration. The caller must Close the session.
func newSession(cmd *cobra.Command, opts *RootOptions) (_ *session, err error) {
	cfg := opts.config
	logger, err := logging.New(cmd.ErrOrStderr(), logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}

	s := &session{config: cfg, logger: logger}
	s.onClose(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	defer func() {
		if err != nil {
			_ = s.Close(cmd.Context())
		}
	}()

	clk := opts.deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	st, runner, err := s.components(opts.deps)
	if err != nil {
		return nil, err
	}

	ledgerName, lockName := docledger.CollectionNames(cfg.BaseName)

	s.locks = lockservice.New(lockservice.Config{
		Store:        st,
		Collection:   lockName,
		Identity:     lockservice.Identity(cfg.Lock.Description),
		MaxWait:      cfg.Lock.MaxWait,
		PollInterval: cfg.Lock.PollInterval,
		Clock:        clk,
		Logger:       logger,
	})
	s.history = ledger.New(ledger.Config{
		Store:       st,
		Collection:  ledgerName,
		ToolVersion: "docledger/" + Version,
		Clock:       clk,
		Logger:      logger,
	})
	s.coordinator = coordinator.New(coordinator.Config{
		Locker:       s.locks,
		History:      s.history,
		Runner:       runner,
		MaxWait:      cfg.Lock.MaxWait,
		PollInterval: cfg.Lock.PollInterval,
		Contexts:     cfg.Contexts,
		MetricsLabel: ledgerName,
		Clock:        clk,
		Logger:       logger,
	})

	if cfg.Metrics.Addr != "" {
		server := metrics.NewServer(cfg.Metrics.Addr)
		server.Start()
		logger.Info(cmd.Context(), "serving metrics", "addr", cfg.Metrics.Addr)
		s.onClose(func(ctx context.Context) error {
			if err := server.Err(); err != nil {
				logging.Warn(ctx, logger, "metrics server failed", "error", err)
			}
			ctx, cancel := context.WithTimeout(ctx, metricsShutdownTimeout)
			defer cancel()
			return server.Shutdown(ctx)
		})
	}

	return s, nil
}

// components returns the ledger store and the change runner. The runner
// always targets the OpenSearch cluster; the backend only decides where the
// ledger and the lock live.
func (s *session) components(deps Dependencies) (store.Store, executor.Runner, error) {
	cfg := s.config
	st, runner := deps.Store, deps.Runner
	if st != nil && runner != nil {
		return st, runner, nil
	}

	client, err := opensearch.NewClient(opensearch.ClientConfig{
		Addresses:          cfg.OpenSearch.Addresses,
		Username:           cfg.OpenSearch.Username,
		Password:           cfg.OpenSearch.Password,
		InsecureSkipVerify: cfg.OpenSearch.Insecure,
		MaxRetries:         cfg.OpenSearch.MaxRetries,
	})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid opensearch configuration", err)
	}
	if runner == nil {
		runner = executor.New(executor.Config{Transport: client, Logger: s.logger})
	}
	if st != nil {
		return st, runner, nil
	}

	switch {
	case cfg.Backend == config.BackendOpenSearch:
		st = opensearch.New(opensearch.Config{Client: client, Logger: s.logger})
	case cfg.Backend == config.BackendMemory:
		logging.Warn(context.Background(), s.logger, "memory backend keeps the ledger only for the duration of the command")
		st = memory.New()
	case cfg.IsSQL():
		dialect, err := sqlstore.DialectFor(cfg.Backend)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "invalid sql configuration", err)
		}
		db, err := sqlstore.Open(dialect, cfg.SQL.DSN)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "invalid sql configuration", err)
		}
		s.onClose(func(context.Context) error { return db.Close() })
		st = sqlstore.New(sqlstore.Config{DB: db, Dialect: dialect, Logger: s.logger})
	default:
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	return st, runner, nil
}

// changeSets loads the configured change log.
func (s *session) changeSets() ([]docledger.ChangeSet, error) {
	return loadChangeLog(s.config.ChangeLog)
}

func loadChangeLog(path string) ([]docledger.ChangeSet, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no change log configured: set --changelog or DOCLEDGER_CHANGELOG")
	}
	log, err := changelog.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load change log", err)
	}
	return log.ChangeSets, nil
}

func (s *session) onClose(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Close releases the session resources in reverse order of acquisition.
func (s *session) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i](ctx))
	}
	s.closers = nil
	return err
}

// withSession runs fn with a fresh session and closes it afterwards.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) (err error) {
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close(cmd.Context()))
	}()
	return fn(cmd.Context(), s)
}

// Package cli implements the docledger command line interface.
package cli

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger/executor"
	"github.com/getpup/docledger/internal/config"
	"github.com/getpup/docledger/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is reported by the version command and written to ledger entries.
// It is set at build time.
var Version = "dev"

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Dependencies replaces components the CLI would otherwise build from the
// configuration. Zero fields are built as usual.
type Dependencies struct {
	Store  store.Store
	Runner executor.Runner
	Clock  clock.Clock
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"

	viper  *viper.Viper
	deps   Dependencies
	config config.Config
}

// NewRootCommand creates the root command of the docledger CLI.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &RootOptions{viper: config.NewViper(), deps: deps}

	cmd := &cobra.Command{
		Use:   "docledger",
		Short: "Apply versioned change sets to a document store",
		Long: "docledger applies the change sets of a YAML change log to OpenSearch exactly once,\n" +
			"recording them in a ledger collection and serializing runs with a lock collection.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load(opts.viper, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.config = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("changelog", "", "path of the change log file")
	flags.String("backend", config.BackendOpenSearch, "ledger backend (opensearch|postgres|mysql|sqlite|memory)")
	flags.String("base-name", "databasechangelog", "name of the ledger collection; the lock collection appends \"lock\"")
	flags.StringSlice("contexts", nil, "contexts of the change sets to run")
	flags.StringSlice("opensearch-address", nil, "OpenSearch node URL (repeatable)")
	flags.String("opensearch-username", "", "OpenSearch user")
	flags.String("opensearch-password", "", "OpenSearch password")
	flags.Bool("opensearch-insecure", false, "skip TLS certificate verification")
	flags.String("sql-dsn", "", "data source name of the SQL backend")
	flags.Duration("lock-max-wait", 0, "how long to wait for the change log lock (default 5m)")
	flags.Duration("lock-poll-interval", 0, "how often to retry the change log lock (default 10s)")
	flags.String("lock-description", "", "text appended to the host name in the lock record")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "console", "log format (console|json)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	bindFlags(opts.viper, cmd, map[string]string{
		config.KeyChangeLog:          "changelog",
		config.KeyBackend:            "backend",
		config.KeyBaseName:           "base-name",
		config.KeyContexts:           "contexts",
		config.KeyOpenSearchAddress:  "opensearch-address",
		config.KeyOpenSearchUser:     "opensearch-username",
		config.KeyOpenSearchPassword: "opensearch-password",
		config.KeyOpenSearchInsecure: "opensearch-insecure",
		config.KeySQLDSN:             "sql-dsn",
		config.KeyLockMaxWait:        "lock-max-wait",
		config.KeyLockPollInterval:   "lock-poll-interval",
		config.KeyLockDescription:    "lock-description",
		config.KeyLogLevel:           "log-level",
		config.KeyLogFormat:          "log-format",
		config.KeyMetricsAddr:        "metrics-addr",
	})

	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewChangelogSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTagCommand(opts))
	cmd.AddCommand(NewTagExistsCommand(opts))
	cmd.AddCommand(NewRollbackCountCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewClearChecksumsCommand(opts))
	cmd.AddCommand(NewListLocksCommand(opts))
	cmd.AddCommand(NewReleaseLocksCommand(opts))
	cmd.AddCommand(NewDropAllCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// bindFlags binds each viper key to the persistent flag of the same setting.
// A flag set on the command line wins over the environment and the file.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

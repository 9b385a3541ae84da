// Package config loads the docledger CLI configuration from a file, the
// environment and command line flags.
//
// Keys are dotted (lock.max_wait). The environment variable for a key is the
// upper-cased key prefixed with DOCLEDGER_ and with dots and dashes replaced
// by underscores, e.g. DOCLEDGER_LOCK_MAX_WAIT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/lockservice"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "DOCLEDGER"

// Backends the ledger and lock collections can be stored in.
const (
	BackendOpenSearch = "opensearch"
	BackendPostgres   = "postgres"
	BackendMySQL      = "mysql"
	BackendSQLite     = "sqlite"
	BackendMemory     = "memory"
)

// Keys of the configuration values.
const (
	KeyChangeLog          = "changelog"
	KeyBackend            = "backend"
	KeyBaseName           = "base_name"
	KeyContexts           = "contexts"
	KeyOpenSearchAddress  = "opensearch.addresses"
	KeyOpenSearchUser     = "opensearch.username"
	KeyOpenSearchPassword = "opensearch.password"
	KeyOpenSearchInsecure = "opensearch.insecure"
	KeyOpenSearchRetries  = "opensearch.max_retries"
	KeySQLDSN             = "sql.dsn"
	KeyLockMaxWait        = "lock.max_wait"
	KeyLockPollInterval   = "lock.poll_interval"
	KeyLockDescription    = "lock.description"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
	KeyMetricsAddr        = "metrics.addr"
)

// Config is the resolved CLI configuration.
type Config struct {
	// ChangeLog is the path of the YAML change log.
	ChangeLog string `mapstructure:"changelog"`

	// Backend stores the ledger and the lock: opensearch, postgres, mysql,
	// sqlite or memory.
	Backend string `mapstructure:"backend"`

	// BaseName names the ledger collection; the lock collection appends "lock".
	BaseName string `mapstructure:"base_name"`

	// Contexts selects the change sets to run. Empty runs all.
	Contexts []string `mapstructure:"contexts"`

	OpenSearch OpenSearch `mapstructure:"opensearch"`
	SQL        SQL        `mapstructure:"sql"`
	Lock       Lock       `mapstructure:"lock"`
	Log        Log        `mapstructure:"log"`
	Metrics    Metrics    `mapstructure:"metrics"`
}

// OpenSearch is the cluster the changes are applied to. It also stores the
// ledger when the backend is opensearch.
type OpenSearch struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Insecure   bool     `mapstructure:"insecure"`
	MaxRetries int      `mapstructure:"max_retries"`
}

// SQL configures the SQL backends.
type SQL struct {
	DSN string `mapstructure:"dsn"`
}

// Lock configures the wait for the change log lock.
type Lock struct {
	MaxWait      time.Duration `mapstructure:"max_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Description is appended to the host name in the lock record.
	Description string `mapstructure:"description"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics configures the optional Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default of every key. Registering all keys also
// lets AutomaticEnv resolve them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyChangeLog, "")
	v.SetDefault(KeyBackend, BackendOpenSearch)
	v.SetDefault(KeyBaseName, docledger.DefaultBaseName)
	v.SetDefault(KeyContexts, []string{})
	v.SetDefault(KeyOpenSearchAddress, []string{"http://localhost:9200"})
	v.SetDefault(KeyOpenSearchUser, "")
	v.SetDefault(KeyOpenSearchPassword, "")
	v.SetDefault(KeyOpenSearchInsecure, false)
	v.SetDefault(KeyOpenSearchRetries, 3)
	v.SetDefault(KeySQLDSN, "")
	v.SetDefault(KeyLockMaxWait, lockservice.DefaultMaxWait)
	v.SetDefault(KeyLockPollInterval, lockservice.DefaultPollInterval)
	v.SetDefault(KeyLockDescription, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyMetricsAddr, "")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional config file into v and returns the validated
// configuration. Flags must already be bound to v.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Contexts = splitList(cfg.Contexts)
	cfg.OpenSearch.Addresses = splitList(cfg.OpenSearch.Addresses)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no command can work with.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendOpenSearch, BackendMemory:
	case BackendPostgres, BackendMySQL, BackendSQLite:
		if c.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("sql.dsn is required for the %s backend", c.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.BaseName == "" {
		errs = append(errs, errors.New("base_name must not be empty"))
	}
	if c.Lock.MaxWait < 0 {
		errs = append(errs, errors.New("lock.max_wait must not be negative"))
	}
	if c.Lock.PollInterval <= 0 {
		errs = append(errs, errors.New("lock.poll_interval must be positive"))
	}
	if c.OpenSearch.MaxRetries < 0 {
		errs = append(errs, errors.New("opensearch.max_retries must not be negative"))
	}

	return multierr.Combine(errs...)
}

// IsSQL reports whether the backend is one of the SQL databases.
func (c Config) IsSQL() bool {
	switch c.Backend {
	case BackendPostgres, BackendMySQL, BackendSQLite:
		return true
	}
	return false
}

// splitList expands comma separated elements, which is how lists arrive from
// the environment, and drops empty ones.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

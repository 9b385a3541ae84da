package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, BackendOpenSearch, cfg.Backend)
	assert.Equal(t, "databasechangelog", cfg.BaseName)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.OpenSearch.Addresses)
	assert.Equal(t, 3, cfg.OpenSearch.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Lock.MaxWait)
	assert.Equal(t, 10*time.Second, cfg.Lock.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Contexts)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.False(t, cfg.IsSQL())
}

func TestLoad_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docledger.yaml")
	content := `
changelog: db/changelog.yaml
backend: sqlite
base_name: search_changelog
contexts: [dev, test]
sql:
  dsn: file:ledger.db
lock:
  max_wait: 30s
  poll_interval: 2s
  description: ci
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg, err := Load(NewViper(), file)
	require.NoError(t, err)

	assert.Equal(t, "db/changelog.yaml", cfg.ChangeLog)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.True(t, cfg.IsSQL())
	assert.Equal(t, "search_changelog", cfg.BaseName)
	assert.Equal(t, []string{"dev", "test"}, cfg.Contexts)
	assert.Equal(t, "file:ledger.db", cfg.SQL.DSN)
	assert.Equal(t, 30*time.Second, cfg.Lock.MaxWait)
	assert.Equal(t, 2*time.Second, cfg.Lock.PollInterval)
	assert.Equal(t, "ci", cfg.Lock.Description)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DOCLEDGER_BACKEND", "postgres")
	t.Setenv("DOCLEDGER_SQL_DSN", "postgres://localhost/ledger")
	t.Setenv("DOCLEDGER_LOCK_MAX_WAIT", "1m")
	t.Setenv("DOCLEDGER_OPENSEARCH_ADDRESSES", "http://a:9200,http://b:9200")
	t.Setenv("DOCLEDGER_CONTEXTS", "prod")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/ledger", cfg.SQL.DSN)
	assert.Equal(t, time.Minute, cfg.Lock.MaxWait)
	assert.Equal(t, []string{"http://a:9200", "http://b:9200"}, cfg.OpenSearch.Addresses)
	assert.Equal(t, []string{"prod"}, cfg.Contexts)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docledger.yaml")
	require.NoError(t, os.WriteFile(file, []byte("backend: memory\nbase_name: from_file\n"), 0o600))
	t.Setenv("DOCLEDGER_BASE_NAME", "from_env")

	cfg, err := Load(NewViper(), file)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "from_env", cfg.BaseName)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend:  BackendMemory,
			BaseName: "databasechangelog",
			Lock:     Lock{MaxWait: time.Minute, PollInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "cassandra" }, wantErr: `unknown backend "cassandra"`},
		{name: "sql without dsn", mutate: func(c *Config) { c.Backend = BackendMySQL }, wantErr: "sql.dsn is required for the mysql backend"},
		{name: "sql with dsn", mutate: func(c *Config) { c.Backend = BackendMySQL; c.SQL.DSN = "user@/db" }},
		{name: "empty base name", mutate: func(c *Config) { c.BaseName = "" }, wantErr: "base_name must not be empty"},
		{name: "negative wait", mutate: func(c *Config) { c.Lock.MaxWait = -time.Second }, wantErr: "lock.max_wait must not be negative"},
		{name: "zero poll", mutate: func(c *Config) { c.Lock.PollInterval = 0 }, wantErr: "lock.poll_interval must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Config{Backend: "nope"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", " c "}))
	assert.Nil(t, splitList(nil))
}

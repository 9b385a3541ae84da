package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getpup/docledger"
	"github.com/getpup/docledger/executor"
	"github.com/getpup/docledger/store"
	"github.com/getpup/docledger/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoChangeSets = `
databaseChangeLog:
  - changeSet:
      id: 1
      author: alice
      changes:
        - httpRequest:
            method: PUT
            path: /products
      rollback:
        - httpRequest:
            method: DELETE
            path: /products
  - changeSet:
      id: 2
      author: alice
      changes:
        - httpRequest:
            method: PUT
            path: /orders
      rollback:
        - httpRequest:
            method: DELETE
            path: /orders
`

const thirdChangeSet = `
  - changeSet:
      id: 3
      author: bob
      changes:
        - httpRequest:
            method: PUT
            path: /customers
      rollback:
        - httpRequest:
            method: DELETE
            path: /customers
`

type harness struct {
	t         *testing.T
	store     *memory.Store
	runner    *executor.MockRunner
	clock     *clock.Mock
	changeLog string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		store:     memory.New(),
		runner:    executor.NewMockRunner(),
		clock:     clock.NewMock(),
		changeLog: filepath.Join(t.TempDir(), "changelog.yaml"),
	}
	h.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h.runner.ExecuteFunc = func(_ context.Context, _ []docledger.Change) error {
		h.clock.Add(time.Second)
		return nil
	}
	h.writeChangeLog(twoChangeSets)
	return h
}

func (h *harness) writeChangeLog(content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.changeLog, []byte(content), 0o600))
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommand(Dependencies{Store: h.store, Runner: h.runner, Clock: h.clock})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--backend", "memory", "--changelog", h.changeLog, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, output string, data interface{}) {
	t.Helper()
	resp := struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	require.NotNil(t, cmd)
	assert.Equal(t, "docledger", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	commands := []string{
		"update", "changelog-sync", "status", "history", "validate", "tag", "tag-exists",
		"rollback-count", "rollback", "clear-checksums", "list-locks", "release-locks", "drop-all", "version",
	}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})

	for _, name := range []string{"config", "format", "changelog", "backend", "base-name", "contexts", "sql-dsn", "lock-max-wait", "metrics-addr"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("--format", "yaml", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfiguration(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--backend", "postgres", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sql.dsn is required")
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("update")
	require.NoError(t, err)
	assert.Contains(t, out, "executed")
	assert.Contains(t, out, h.changeLog+"::1::alice")
	assert.Contains(t, out, "2 change set(s) processed")
	assert.Len(t, h.runner.Calls(), 2)

	out, err = h.run("update")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to update.\n", out)
	assert.Len(t, h.runner.Calls(), 2, "applied change sets must not run again")
}

func TestUpdate_JSON(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("--format", "json", "update")
	require.NoError(t, err)

	var result resultView
	decode(t, out, &result)
	assert.NotEmpty(t, result.DeploymentID)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "executed", result.Outcomes[0].Action)
	assert.Equal(t, float64(1), result.Outcomes[0].Seconds)
}

func TestStatusAndChangelogSync(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("--format", "json", "status")
	require.NoError(t, err)
	var pending []changeSetView
	decode(t, out, &pending)
	require.Len(t, pending, 2)
	assert.Equal(t, h.changeLog+"::2::alice", pending[1].ChangeSet)

	out, err = h.run("changelog-sync")
	require.NoError(t, err)
	assert.Contains(t, out, "marked_ran")
	assert.Empty(t, h.runner.Calls(), "sync must not execute changes")

	out, err = h.run("status")
	require.NoError(t, err)
	assert.Equal(t, "0 change set(s) have not been applied\n", out)
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	out, err := h.run("--format", "json", "history")
	require.NoError(t, err)
	var entries []docledger.LedgerEntry
	decode(t, out, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, h.changeLog+"::1::alice", entries[0].ID)
	assert.Equal(t, h.changeLog+"::2::alice", entries[1].ID)
	assert.Equal(t, docledger.ExecTypeExecuted, entries[1].ExecType)
	assert.Equal(t, "docledger/"+Version, entries[0].ToolVersion)

	out, err = h.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "ORDER")
	assert.Contains(t, out, "EXECUTED")
}

func TestTagAndRollback(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	out, err := h.run("tag", "v1")
	require.NoError(t, err)
	assert.Contains(t, out, "v1")

	out, err = h.run("tag-exists", "v1")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = h.run("--format", "json", "tag-exists", "v2")
	require.NoError(t, err)
	var exists map[string]bool
	decode(t, out, &exists)
	assert.False(t, exists["exists"])

	h.writeChangeLog(twoChangeSets + thirdChangeSet)
	_, err = h.run("update")
	require.NoError(t, err)
	require.Len(t, h.runner.Calls(), 3)

	out, err = h.run("rollback", "v1")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled_back")
	assert.Contains(t, out, "::3::bob")

	calls := h.runner.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "DELETE", calls[3][0].Method)
	assert.Equal(t, "/customers", calls[3][0].Path)
}

func TestRollbackCount(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	_, err = h.run("rollback-count", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := h.run("rollback-count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2 change set(s) processed")

	out, err = h.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "2 change set(s) have not been applied")
}

func TestClearChecksums(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	out, err := h.run("clear-checksums")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared")

	entries, err := h.store.ListEntries(context.Background(), "databasechangelog")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Nil(t, e.CheckSum)
	}
}

func TestLocks(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	out, err := h.run("list-locks")
	require.NoError(t, err)
	assert.Equal(t, "The change log is not locked.\n", out)

	require.NoError(t, h.store.CreateLock(context.Background(), "databasechangeloglock",
		docledger.LockRecord{ID: docledger.LockRecordID, GrantedAt: h.clock.Now(), LockedBy: "other-host (10.0.0.2)"}, store.VisibilityImmediate))

	out, err = h.run("list-locks")
	require.NoError(t, err)
	assert.Contains(t, out, "Locked by other-host (10.0.0.2)")

	_, err = h.run("release-locks")
	require.NoError(t, err)

	out, err = h.run("--format", "json", "list-locks")
	require.NoError(t, err)
	var locks []docledger.LockRecord
	decode(t, out, &locks)
	assert.Empty(t, locks)
}

func TestDropAll(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("update")
	require.NoError(t, err)

	_, err = h.run("drop-all")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = h.run("drop-all", "--yes")
	require.NoError(t, err)

	exists, err := h.store.Exists(context.Background(), "databasechangelog")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 change set(s)")

	h.writeChangeLog("databaseChangeLog:\n  - changeSet:\n      author: alice\n")
	_, err = h.run("validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingChangeLog(t *testing.T) {
	cmd := NewRootCommand(Dependencies{Store: memory.New(), Runner: executor.NewMockRunner()})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--backend", "memory", "update"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no change log configured")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", assert.AnError)))
	assert.Equal(t, ExitLockTimeout, GetExitCode(&docledger.LockTimeoutError{}))
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// infoOnly implements es.Logger without a warning level.
type infoOnly struct {
	infos []string
}

func (l *infoOnly) Debug(ctx context.Context, msg string, args ...interface{}) {}
func (l *infoOnly) Info(ctx context.Context, msg string, args ...interface{}) {
	l.infos = append(l.infos, msg)
}
func (l *infoOnly) Error(ctx context.Context, msg string, args ...interface{}) {}

func TestLogger_KeyValuesBecomeFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core))

	logger.Info(context.Background(), "lock acquired", "collection", "databasechangeloglock", "attempt", 2)

	entries := logs.FilterMessage("lock acquired").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, map[string]interface{}{
		"collection": "databasechangeloglock",
		"attempt":    int64(2),
	}, entries[0].ContextMap())
}

func TestLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core))
	ctx := context.Background()

	logger.Debug(ctx, "d")
	logger.Info(ctx, "i")
	logger.Warn(ctx, "w")
	logger.Error(ctx, "e")

	var levels []zapcore.Level
	for _, e := range logs.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}, levels)
}

func TestWarn_FallsBackToInfo(t *testing.T) {
	l := &infoOnly{}

	Warn(context.Background(), l, "ledger is empty")
	Warn(context.Background(), nil, "ignored")

	assert.Equal(t, []string{"ledger is empty"}, l.infos)
}

func TestWarn_UsesWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	Warn(context.Background(), Wrap(zap.New(core)), "ledger is empty")

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info(context.Background(), "filtered")
	logger.Warn(context.Background(), "kept", "tag", "v1")
	require.NoError(t, logger.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "v1", line["tag"])
	assert.NotContains(t, buf.String(), "filtered")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Info(context.Background(), "nothing")
	})
}

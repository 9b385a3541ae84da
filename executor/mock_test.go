package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/docledger"
	"github.com/stretchr/testify/assert"
)

func TestMockRunner_RecordsCalls(t *testing.T) {
	mock := NewMockRunner()
	changes := []docledger.Change{{Type: docledger.ChangeTypeHTTPRequest, Method: "PUT", Path: "/a"}}

	assert.NoError(t, mock.Execute(context.Background(), changes))
	assert.NoError(t, mock.Execute(context.Background(), nil))

	calls := mock.Calls()
	assert.Len(t, calls, 2)
	assert.Equal(t, changes, calls[0])
}

func TestMockRunner_ExecuteFunc(t *testing.T) {
	mock := NewMockRunner()
	want := errors.New("boom")
	mock.ExecuteFunc = func(ctx context.Context, changes []docledger.Change) error {
		return want
	}

	assert.ErrorIs(t, mock.Execute(context.Background(), nil), want)
}

func TestMockRunner_Reset(t *testing.T) {
	mock := NewMockRunner()
	_ = mock.Execute(context.Background(), nil)

	mock.Reset()
	assert.Empty(t, mock.Calls())
}

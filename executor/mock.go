package executor

import (
	"context"
	"sync"

	"github.com/getpup/docledger"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu           sync.Mutex
	ExecuteFunc  func(ctx context.Context, changes []docledger.Change) error
	ExecuteCalls [][]docledger.Change
}

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		ExecuteCalls: make([][]docledger.Change, 0),
	}
}

// Execute implements the Runner interface.
// It records the changes, then calls ExecuteFunc if set. Otherwise it
// succeeds.
func (m *MockRunner) Execute(ctx context.Context, changes []docledger.Change) error {
	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, changes)
	fn := m.ExecuteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, changes)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockRunner) Calls() [][]docledger.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]docledger.Change(nil), m.ExecuteCalls...)
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteCalls = make([][]docledger.Change, 0)
}

// Package executor applies the changes of a change set to the target store.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getpup/docledger"
	"github.com/getpup/pupsourcing/es"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// maxErrorBody caps how much of a failed response is kept in RequestError.
const maxErrorBody = 64 << 10

// Runner executes the changes of a change set.
// This interface allows for mock implementations in tests.
type Runner interface {
	Execute(ctx context.Context, changes []docledger.Change) error
}

// UnsupportedChangeError is returned for a change type the executor cannot run.
type UnsupportedChangeError struct {
	Change docledger.Change
}

func (e *UnsupportedChangeError) Error() string {
	return fmt.Sprintf("cannot execute change of type %q: only %s changes are supported (got %s)",
		e.Change.Type, docledger.ChangeTypeHTTPRequest, e.Change)
}

// RequestError is returned when the target store answers with status >= 400.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Config configures the HTTP executor.
type Config struct {
	// Transport performs the requests (required). *opensearch.Client
	// implements it and resolves relative paths against its node pool.
	Transport opensearchapi.Transport

	// Logger is an optional logger for observability.
	Logger es.Logger
}

// Executor runs httpRequest changes against the target store.
type Executor struct {
	config Config
}

// Compile-time check that Executor implements Runner.
var _ Runner = (*Executor)(nil)

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	return &Executor{config: cfg}
}

// Execute runs the changes in order and stops at the first failure.
func (e *Executor) Execute(ctx context.Context, changes []docledger.Change) error {
	for i, change := range changes {
		if err := e.execute(ctx, change); err != nil {
			return fmt.Errorf("change %d: %w", i+1, err)
		}
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, change docledger.Change) error {
	if change.Type != docledger.ChangeTypeHTTPRequest {
		return &UnsupportedChangeError{Change: change}
	}
	method := strings.ToUpper(strings.TrimSpace(change.Method))
	if method == "" {
		return fmt.Errorf("%s: method is required", change)
	}
	path := strings.TrimSpace(change.Path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	if change.Body != "" {
		body = strings.NewReader(change.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", change, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if e.config.Logger != nil {
		e.config.Logger.Debug(ctx, "executing change", "method", method, "path", path, "body_size", len(change.Body))
	}

	res, err := e.config.Transport.Perform(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", change, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       string(raw),
		}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

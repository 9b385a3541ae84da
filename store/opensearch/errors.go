package opensearch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/getpup/docledger/store"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// ResponseError is an error response returned by the cluster.
type ResponseError struct {
	StatusCode int
	Type       string
	Reason     string
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("opensearch responded %d: %s: %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("opensearch responded %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known responses to the store sentinel errors.
func (e *ResponseError) Unwrap() error {
	switch {
	case e.Type == "index_not_found_exception":
		return store.ErrCollectionNotFound
	case e.StatusCode == http.StatusConflict:
		return store.ErrConflict
	default:
		return nil
	}
}

// newResponseError reads and closes the body of an error response.
func newResponseError(res *opensearchapi.Response) *ResponseError {
	respErr := &ResponseError{StatusCode: res.StatusCode}
	if res.Body == nil {
		return respErr
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return respErr
	}
	respErr.Body = string(raw)

	var parsed struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		respErr.Type = parsed.Error.Type
		respErr.Reason = parsed.Error.Reason
	}
	return respErr
}

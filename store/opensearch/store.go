// Package opensearch stores the lock record and the ledger in OpenSearch
// indices.
//
// Each collection is an index. Lock creation uses the _create endpoint, which
// fails with 409 when the document exists, giving the atomic test-and-set the
// lock service relies on. Writes requested with immediate visibility use
// refresh=wait_for.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/getpup/docledger"
	"github.com/getpup/docledger/store"
	"github.com/getpup/pupsourcing/es"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// DefaultSearchSize caps the number of documents returned by listing queries.
const DefaultSearchSize = 10000

const clearCheckSumsScript = "ctx._source." + docledger.FieldCheckSum + " = null"

// Config holds configuration for the Store.
type Config struct {
	// Client performs the HTTP requests (required). *opensearch.Client
	// implements it.
	Client opensearchapi.Transport

	// SearchSize caps listing queries (default: 10000).
	SearchSize int

	// Logger is for observability (optional).
	Logger es.Logger
}

// Store implements store.Store on OpenSearch.
type Store struct {
	config Config
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new Store.
func New(cfg Config) *Store {
	if cfg.SearchSize == 0 {
		cfg.SearchSize = DefaultSearchSize
	}
	return &Store{config: cfg}
}

type searchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		Max struct {
			Value *float64 `json:"value"`
		} `json:"max"`
	} `json:"aggregations"`
}

// Exists reports whether the index exists.
func (s *Store) Exists(ctx context.Context, collection string) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{collection}}.Do(ctx, s.config.Client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", collection, err)
	}
	defer closeBody(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check index %s: %w", collection, newResponseError(res))
	}
}

// Create creates an empty index. The mapping is applied by ApplySchema.
func (s *Store) Create(ctx context.Context, collection string) error {
	res, err := opensearchapi.IndicesCreateRequest{Index: collection}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		return fmt.Errorf("failed to create index %s: %w", collection, err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "created index", "index", collection)
	}
	return nil
}

// ApplySchema puts the mapping of the index. OpenSearch only accepts
// additive mapping changes, which makes repeated calls idempotent.
func (s *Store) ApplySchema(ctx context.Context, collection string, fields []docledger.FieldSpec) error {
	body, err := encode(map[string]interface{}{"properties": mapping(fields)})
	if err != nil {
		return err
	}

	res, err := opensearchapi.IndicesPutMappingRequest{
		Index: []string{collection},
		Body:  body,
	}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		return fmt.Errorf("failed to put mapping of %s: %w", collection, err)
	}
	return nil
}

// Drop deletes the index.
func (s *Store) Drop(ctx context.Context, collection string) error {
	res, err := opensearchapi.IndicesDeleteRequest{Index: []string{collection}}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", collection, err)
	}
	return nil
}

// CreateLock creates the lock document through the _create endpoint.
func (s *Store) CreateLock(ctx context.Context, collection string, record docledger.LockRecord, visibility store.Visibility) error {
	body, err := encode(record)
	if err != nil {
		return err
	}

	res, err := opensearchapi.CreateRequest{
		Index:      collection,
		DocumentID: documentID(record.ID),
		Body:       body,
		Refresh:    refresh(visibility),
	}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.ErrConflict
		}
		return fmt.Errorf("failed to create lock record: %w", err)
	}
	return nil
}

// DeleteLock deletes the lock document. A missing document is not an error.
func (s *Store) DeleteLock(ctx context.Context, collection string, id string, visibility store.Visibility) error {
	return s.deleteDocument(ctx, collection, id, visibility)
}

// QueryLocks returns the lock documents of the index.
func (s *Store) QueryLocks(ctx context.Context, collection string) ([]docledger.LockRecord, error) {
	hits, err := s.searchAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query lock records: %w", err)
	}

	locks := make([]docledger.LockRecord, 0, len(hits))
	for _, h := range hits {
		var rec docledger.LockRecord
		if err := json.Unmarshal(h.Source, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode lock record %s: %w", h.ID, err)
		}
		locks = append(locks, rec)
	}
	return locks, nil
}

// MaxOrderExecuted runs a max aggregation on orderExecuted.
func (s *Store) MaxOrderExecuted(ctx context.Context, collection string) (float64, bool, error) {
	resp, err := s.search(ctx, collection, map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"max": map[string]interface{}{
				"max": map[string]interface{}{"field": docledger.FieldOrderExecuted},
			},
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to aggregate %s: %w", docledger.FieldOrderExecuted, err)
	}

	if resp.Aggregations.Max.Value == nil {
		return 0, false, nil
	}
	return *resp.Aggregations.Max.Value, true, nil
}

// PutEntry indexes the entry under its id.
func (s *Store) PutEntry(ctx context.Context, collection string, entry docledger.LedgerEntry, visibility store.Visibility) error {
	body, err := encode(entry)
	if err != nil {
		return err
	}

	res, err := opensearchapi.IndexRequest{
		Index:      collection,
		DocumentID: documentID(entry.ID),
		Body:       body,
		Refresh:    refresh(visibility),
	}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		return fmt.Errorf("failed to index ledger entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetEntry fetches the entry by id.
func (s *Store) GetEntry(ctx context.Context, collection string, id string) (docledger.LedgerEntry, error) {
	res, err := opensearchapi.GetRequest{Index: collection, DocumentID: documentID(id)}.Do(ctx, s.config.Client)
	if err != nil {
		return docledger.LedgerEntry{}, fmt.Errorf("failed to get ledger entry %s: %w", id, err)
	}
	defer closeBody(res)

	if res.StatusCode == http.StatusNotFound {
		respErr := newResponseError(res)
		if errors.Is(respErr, store.ErrCollectionNotFound) {
			return docledger.LedgerEntry{}, fmt.Errorf("failed to get ledger entry %s: %w", id, respErr)
		}
		return docledger.LedgerEntry{}, store.ErrEntryNotFound
	}
	if res.IsError() {
		return docledger.LedgerEntry{}, fmt.Errorf("failed to get ledger entry %s: %w", id, newResponseError(res))
	}

	var doc struct {
		Found  bool                  `json:"found"`
		Source docledger.LedgerEntry `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return docledger.LedgerEntry{}, fmt.Errorf("failed to decode ledger entry %s: %w", id, err)
	}
	if !doc.Found {
		return docledger.LedgerEntry{}, store.ErrEntryNotFound
	}
	return doc.Source, nil
}

// DeleteEntry deletes the entry. A missing entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, collection string, id string, visibility store.Visibility) error {
	return s.deleteDocument(ctx, collection, id, visibility)
}

// UpdateCheckSum sends a partial document update of the checksum field.
func (s *Store) UpdateCheckSum(ctx context.Context, collection string, id string, checksum *docledger.CheckSum, visibility store.Visibility) error {
	return s.updateField(ctx, collection, id, docledger.FieldCheckSum, checksum, visibility)
}

// ClearCheckSums nulls every checksum with a painless update-by-query.
func (s *Store) ClearCheckSums(ctx context.Context, collection string, visibility store.Visibility) error {
	body, err := encode(map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"script": map[string]interface{}{
			"source": clearCheckSumsScript,
			"lang":   "painless",
		},
	})
	if err != nil {
		return err
	}

	req := opensearchapi.UpdateByQueryRequest{
		Index:     []string{collection},
		Body:      body,
		Conflicts: "proceed",
	}
	if visibility == store.VisibilityImmediate {
		refresh := true
		req.Refresh = &refresh
	}

	res, err := req.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		return fmt.Errorf("failed to clear checksums: %w", err)
	}
	return nil
}

// CountTag counts the documents whose keyword tag equals tag.
func (s *Store) CountTag(ctx context.Context, collection string, tag string) (int64, error) {
	body, err := encode(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{docledger.FieldTag: tag},
		},
	})
	if err != nil {
		return 0, err
	}

	res, err := opensearchapi.CountRequest{Index: []string{collection}, Body: body}.Do(ctx, s.config.Client)
	if err != nil {
		return 0, fmt.Errorf("failed to count tag %s: %w", tag, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return 0, fmt.Errorf("failed to count tag %s: %w", tag, newResponseError(res))
	}

	var count struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return count.Count, nil
}

// ListEntries returns up to SearchSize entries.
func (s *Store) ListEntries(ctx context.Context, collection string) ([]docledger.LedgerEntry, error) {
	hits, err := s.searchAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	entries := make([]docledger.LedgerEntry, 0, len(hits))
	for _, h := range hits {
		var entry docledger.LedgerEntry
		if err := json.Unmarshal(h.Source, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %s: %w", h.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LatestEntryID returns the id of the entry with the greatest executedAt.
// Dates only keep milliseconds, so ties go to the greater orderExecuted.
func (s *Store) LatestEntryID(ctx context.Context, collection string) (string, bool, error) {
	resp, err := s.search(ctx, collection, map[string]interface{}{
		"size":    1,
		"_source": []string{docledger.FieldID},
		"sort": []interface{}{
			map[string]interface{}{
				docledger.FieldExecutedAt: map[string]interface{}{"order": "desc"},
			},
			map[string]interface{}{
				docledger.FieldOrderExecuted: map[string]interface{}{"order": "desc"},
			},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to find latest ledger entry: %w", err)
	}

	if len(resp.Hits.Hits) == 0 {
		return "", false, nil
	}

	hit := resp.Hits.Hits[0]
	var source struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(hit.Source, &source); err != nil || source.ID == "" {
		return hit.ID, true, nil
	}
	return source.ID, true, nil
}

// SetTag sends a partial document update of the tag field.
func (s *Store) SetTag(ctx context.Context, collection string, id string, tag string, visibility store.Visibility) error {
	return s.updateField(ctx, collection, id, docledger.FieldTag, tag, visibility)
}

func (s *Store) updateField(ctx context.Context, collection, id, field string, value interface{}, visibility store.Visibility) error {
	body, err := encode(map[string]interface{}{
		"doc": map[string]interface{}{field: value},
	})
	if err != nil {
		return err
	}

	res, err := opensearchapi.UpdateRequest{
		Index:      collection,
		DocumentID: documentID(id),
		Body:       body,
		Refresh:    refresh(visibility),
	}.Do(ctx, s.config.Client)
	if err := s.check(res, err); err != nil {
		var respErr *ResponseError
		if errors.As(err, &respErr) && respErr.Type == "document_missing_exception" {
			return store.ErrEntryNotFound
		}
		return fmt.Errorf("failed to update %s of %s: %w", field, id, err)
	}
	return nil
}

func (s *Store) deleteDocument(ctx context.Context, collection, id string, visibility store.Visibility) error {
	res, err := opensearchapi.DeleteRequest{
		Index:      collection,
		DocumentID: documentID(id),
		Refresh:    refresh(visibility),
	}.Do(ctx, s.config.Client)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	defer closeBody(res)

	if res.StatusCode == http.StatusNotFound {
		// A missing document answers 404 with result "not_found"; a missing
		// index answers 404 with an error.
		if respErr := newResponseError(res); respErr.Type != "" {
			return fmt.Errorf("failed to delete document %s: %w", id, respErr)
		}
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("failed to delete document %s: %w", id, newResponseError(res))
	}
	return nil
}

func (s *Store) searchAll(ctx context.Context, collection string) ([]searchHit, error) {
	resp, err := s.search(ctx, collection, map[string]interface{}{
		"size":  s.config.SearchSize,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Hits.Hits, nil
}

func (s *Store) search(ctx context.Context, collection string, query map[string]interface{}) (searchResponse, error) {
	body, err := encode(query)
	if err != nil {
		return searchResponse{}, err
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{collection},
		Body:  body,
	}.Do(ctx, s.config.Client)
	if err != nil {
		return searchResponse{}, err
	}
	defer closeBody(res)
	if res.IsError() {
		return searchResponse{}, newResponseError(res)
	}

	var resp searchResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return searchResponse{}, fmt.Errorf("failed to decode search response: %w", err)
	}
	return resp, nil
}

// check turns a transport error or an error response into an error and
// closes the body of successful responses.
func (s *Store) check(res *opensearchapi.Response, err error) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		return newResponseError(res)
	}
	closeBody(res)
	return nil
}

// documentID escapes ledger ids, which embed changelog paths, for use as a
// single URL path segment. Every request uses the same transformation, and the
// unescaped id is always read back from the id field of the source.
func documentID(id string) string {
	return url.PathEscape(id)
}

func refresh(v store.Visibility) string {
	if v == store.VisibilityImmediate {
		return "wait_for"
	}
	return ""
}

func encode(v interface{}) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(raw), nil
}

func closeBody(res *opensearchapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}

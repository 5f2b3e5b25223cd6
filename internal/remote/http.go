package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nwhit/corkboard/pkg/board"
)

const defaultRequestTimeout = 10 * time.Second

// HTTPStore talks JSON to a corkboard document server.
//
// Wire contract:
//
//	GET /v1/documents/{id}              -> 200 {document_id, items, version}
//	PUT /v1/documents/{id}              <- {items, base_version}
//	    200 {document_id, items, version} on acceptance
//	    409 {document_id, items, version} on base_version mismatch
//
// Unknown documents fetch as the empty snapshot at version 0, which is what
// lets a first write create the document implicitly.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a client for the server at baseURL. If client is nil a
// default with a 10s timeout is used.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPStore{baseURL: baseURL, client: client}
}

// Fetch implements Store.
func (s *HTTPStore) Fetch(ctx context.Context, documentID string) (board.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.documentURL(documentID), nil)
	if err != nil {
		return board.Snapshot{}, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return board.Snapshot{}, fmt.Errorf("fetch document %s: %w", documentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return board.Snapshot{}, fmt.Errorf("fetch document %s: unexpected status %d", documentID, resp.StatusCode)
	}

	return decodeSnapshot(resp.Body, documentID)
}

// Write implements Store. HTTP 409 responses are decoded into a
// ConflictError carrying the server's current snapshot.
func (s *HTTPStore) Write(ctx context.Context, documentID string, wr WriteRequest) (board.Snapshot, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return board.Snapshot{}, fmt.Errorf("marshal write request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.documentURL(documentID), bytes.NewReader(body))
	if err != nil {
		return board.Snapshot{}, fmt.Errorf("create write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return board.Snapshot{}, fmt.Errorf("write document %s: %w", documentID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeSnapshot(resp.Body, documentID)

	case http.StatusConflict:
		current, err := decodeSnapshot(resp.Body, documentID)
		if err != nil {
			return board.Snapshot{}, fmt.Errorf("decode conflict body: %w", err)
		}
		return board.Snapshot{}, &ConflictError{Current: current}

	default:
		return board.Snapshot{}, fmt.Errorf("write document %s: unexpected status %d", documentID, resp.StatusCode)
	}
}

func (s *HTTPStore) documentURL(documentID string) string {
	return fmt.Sprintf("%s/v1/documents/%s", s.baseURL, url.PathEscape(documentID))
}

// decodeSnapshot reads a snapshot body, re-sanitizing items at the trust
// boundary. A snapshot that fails to decode is a protocol error, not an empty
// document.
func decodeSnapshot(r io.Reader, documentID string) (board.Snapshot, error) {
	var raw struct {
		DocumentID string          `json:"document_id"`
		Items      json.RawMessage `json:"items"`
		Version    int64           `json:"version"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return board.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	doc := board.Snapshot{
		DocumentID: raw.DocumentID,
		Items:      board.ParseItems(raw.Items),
		Version:    raw.Version,
	}
	if doc.DocumentID == "" {
		doc.DocumentID = documentID
	}
	return doc, nil
}

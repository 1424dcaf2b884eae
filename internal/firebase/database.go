package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-chat/backend/internal/store"
)

// AccessTokens supplies OAuth2 bearer tokens for database requests.
type AccessTokens interface {
	Token(ctx context.Context) (string, error)
}

// Database is a wrapper around the Realtime Database REST API. It
// implements store.Store.
type Database struct {
	baseURL      string
	tokens       AccessTokens
	httpClient   *http.Client
	streamClient *http.Client
	retryDelay   time.Duration
}

var _ store.Store = (*Database)(nil)

// NewDatabase creates a client for the database at baseURL. tokens may
// be nil for databases with open rules (emulator, tests).
func NewDatabase(baseURL string, tokens AccessTokens) *Database {
	return &Database{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout:       10 * time.Second,
			CheckRedirect: keepAccessToken,
		},
		// Streams are long-lived; only the dial is bounded.
		streamClient: &http.Client{CheckRedirect: keepAccessToken},
		retryDelay:   time.Second,
	}
}

func (d *Database) url(path string) string {
	return fmt.Sprintf("%s/%s.json", d.baseURL, store.Join(path))
}

// newRequest builds an authenticated request against path. The access
// token travels as the access_token query parameter because streaming
// requests are redirected to another host, where an Authorization
// header would be dropped.
func (d *Database) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if d.tokens != nil {
		token, err := d.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("access_token", token)
		req.URL.RawQuery = q.Encode()
	}
	return req, nil
}

// keepAccessToken follows redirects, restoring the access token when the
// new location does not carry it.
func keepAccessToken(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	token := via[0].URL.Query().Get("access_token")
	if token == "" || req.URL.Query().Get("access_token") != "" {
		return nil
	}
	q := req.URL.Query()
	q.Set("access_token", token)
	req.URL.RawQuery = q.Encode()
	return nil
}

// doRequest executes a REST call and returns the response body.
func (d *Database) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := d.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: database status %d: %s", ErrUnauthorized, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("firebase error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Get retrieves the value at path; absent values come back as nil.
func (d *Database) Get(ctx context.Context, path string) (json.RawMessage, error) {
	respBody, err := d.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return json.RawMessage(trimmed), nil
}

// Set replaces the value at path.
func (d *Database) Set(ctx context.Context, path string, value interface{}) error {
	_, err := d.doRequest(ctx, http.MethodPut, path, value)
	return err
}

// Update merges children into path. Slash-containing keys are sent as a
// single multi-path PATCH, which the database applies atomically.
func (d *Database) Update(ctx context.Context, path string, children map[string]interface{}) error {
	_, err := d.doRequest(ctx, http.MethodPatch, path, children)
	return err
}

// Push appends value under path and returns the server-generated key.
func (d *Database) Push(ctx context.Context, path string, value interface{}) (string, error) {
	respBody, err := d.doRequest(ctx, http.MethodPost, path, value)
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse push response: %w", err)
	}
	return out.Name, nil
}

// Remove deletes the value at path.
func (d *Database) Remove(ctx context.Context, path string) error {
	_, err := d.doRequest(ctx, http.MethodDelete, path, nil)
	return err
}

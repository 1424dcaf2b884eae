package firebase

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenURI = "https://oauth2.googleapis.com/token"

	// Scopes required for Realtime Database REST access.
	databaseScopes = "https://www.googleapis.com/auth/firebase.database https://www.googleapis.com/auth/userinfo.email"

	// Access tokens are refreshed this long before they expire.
	tokenRefreshSkew = time.Minute
)

// ErrUnauthorized is returned when Google rejects the service credential
// or the database rejects an access token.
var ErrUnauthorized = errors.New("firebase: unauthorized")

// ServiceAccount is a parsed service-account key file.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
}

// ParseServiceAccount decodes a service-account JSON document and its
// RSA private key.
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("service account is missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account private key: %w", err)
	}
	sa.key = key
	return &sa, nil
}

// LoadServiceAccount reads the credential from inline JSON when given,
// otherwise from the file at path.
func LoadServiceAccount(inline, path string) (*ServiceAccount, error) {
	if strings.TrimSpace(inline) != "" {
		return ParseServiceAccount([]byte(inline))
	}
	if path == "" {
		return nil, errors.New("no service account credential configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}
	return ParseServiceAccount(data)
}

// TokenSource exchanges a signed JWT-bearer assertion for an OAuth2
// access token and caches it until shortly before it expires.
type TokenSource struct {
	sa         *ServiceAccount
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a TokenSource for sa.
func NewTokenSource(sa *ServiceAccount) *TokenSource {
	return &TokenSource{
		sa:         sa,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Token returns a valid access token, fetching a new one when needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Add(tokenRefreshSkew).Before(ts.expiry) {
		return ts.token, nil
	}

	assertion, err := ts.assertion(now)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: token endpoint status %d: %s", ErrUnauthorized, resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}

	ts.token = out.AccessToken
	ts.expiry = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	return ts.token, nil
}

func (ts *TokenSource) assertion(now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   ts.sa.ClientEmail,
		"scope": databaseScopes,
		"aud":   ts.sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if ts.sa.PrivateKeyID != "" {
		token.Header["kid"] = ts.sa.PrivateKeyID
	}
	signed, err := token.SignedString(ts.sa.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token assertion: %w", err)
	}
	return signed, nil
}

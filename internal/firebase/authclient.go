package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/parley-chat/backend/internal/session"
)

const (
	identityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	secureTokenURL     = "https://securetoken.googleapis.com/v1/token"
)

// AuthClient is the client side of Firebase Authentication: it exchanges
// passwords or custom tokens for ID tokens and refreshes them. It
// implements both session providers.
type AuthClient struct {
	apiKey      string
	identityURL string
	tokenURL    string
	httpClient  *http.Client
	now         func() time.Time
}

var (
	_ session.PrimaryProvider   = (*AuthClient)(nil)
	_ session.SpectatorProvider = (*AuthClient)(nil)
)

// NewAuthClient creates a client authenticated with a Web API key.
func NewAuthClient(apiKey string) *AuthClient {
	return &AuthClient{
		apiKey:      apiKey,
		identityURL: identityToolkitURL,
		tokenURL:    secureTokenURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

// SignInWithPassword implements session.PrimaryProvider.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*session.Credential, error) {
	var out signInResponse
	err := c.postJSON(ctx, c.identityURL+"/accounts:signInWithPassword", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return c.credential(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

// SignInWithToken implements session.SpectatorProvider.
func (c *AuthClient) SignInWithToken(ctx context.Context, token string) (*session.Credential, error) {
	var out signInResponse
	err := c.postJSON(ctx, c.identityURL+"/accounts:signInWithCustomToken", map[string]interface{}{
		"token":             token,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return c.credential(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

// Refresh implements both providers by redeeming the refresh token.
func (c *AuthClient) Refresh(ctx context.Context, cred *session.Credential) (*session.Credential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.withKey(c.tokenURL), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return c.credential(out.IDToken, out.RefreshToken, out.ExpiresIn)
}

func (c *AuthClient) withKey(endpoint string) string {
	return endpoint + "?key=" + url.QueryEscape(c.apiKey)
}

func (c *AuthClient) postJSON(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.withKey(endpoint), bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *AuthClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return authError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}
	return nil
}

// authError maps Identity Toolkit error codes onto session errors.
func authError(status int, body []byte) error {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &env)
	code := env.Error.Message
	switch {
	case strings.HasPrefix(code, "TOKEN_EXPIRED"),
		strings.HasPrefix(code, "USER_DISABLED"),
		strings.HasPrefix(code, "USER_NOT_FOUND"),
		strings.HasPrefix(code, "INVALID_REFRESH_TOKEN"):
		return fmt.Errorf("%w: %s", session.ErrRevoked, code)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.HasPrefix(code, "INVALID_CUSTOM_TOKEN"),
		strings.HasPrefix(code, "INVALID_LOGIN_CREDENTIALS"),
		strings.HasPrefix(code, "INVALID_PASSWORD"),
		strings.HasPrefix(code, "EMAIL_NOT_FOUND"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, code)
	}
	if code == "" {
		code = string(body)
	}
	return fmt.Errorf("firebase auth error (status %d): %s", status, code)
}

// credential decodes the ID token's claims. The client trusts the token
// it just received from the provider, so the signature is not checked.
func (c *AuthClient) credential(idToken, refreshToken, expiresIn string) (*session.Credential, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token: %w", err)
	}
	uid, _ := claims["user_id"].(string)
	if uid == "" {
		uid, _ = claims.GetSubject()
	}
	email, _ := claims["email"].(string)

	secs, _ := strconv.Atoi(expiresIn)
	return &session.Credential{
		UID:          uid,
		Email:        email,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    c.now().Add(time.Duration(secs) * time.Second),
		Claims:       claims,
	}, nil
}

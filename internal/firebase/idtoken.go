package firebase

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/parley-chat/backend/internal/capability"
	"github.com/parley-chat/backend/internal/models"
)

const (
	googleCertsURL  = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	idTokenIssuer   = "https://securetoken.google.com/"
	defaultCertsTTL = time.Hour
)

// IDToken is a verified Firebase ID token.
type IDToken struct {
	UID    string
	Email  string
	Claims jwt.MapClaims
}

// IDTokenVerifier checks Firebase ID tokens against Google's rotating
// signing certificates.
type IDTokenVerifier struct {
	projectID  string
	certsURL   string
	httpClient *http.Client
	now        func() time.Time

	mu         sync.Mutex
	keys       map[string]*rsa.PublicKey
	keysExpiry time.Time
}

var _ capability.Verifier = (*IDTokenVerifier)(nil)

// NewIDTokenVerifier creates a verifier for tokens issued to projectID.
func NewIDTokenVerifier(projectID string) *IDTokenVerifier {
	return &IDTokenVerifier{
		projectID:  projectID,
		certsURL:   googleCertsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// VerifyIDToken validates signature, audience, issuer, expiry and subject.
func (v *IDTokenVerifier) VerifyIDToken(ctx context.Context, raw string) (*IDToken, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(idTokenIssuer+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}
	sub, _ := mc.GetSubject()
	if sub == "" || len(sub) > 128 {
		return nil, fmt.Errorf("%w: invalid subject", ErrUnauthorized)
	}
	if authTime, ok := mc["auth_time"].(float64); ok && int64(authTime) > v.now().Unix() {
		return nil, fmt.Errorf("%w: auth_time in the future", ErrUnauthorized)
	}
	email, _ := mc["email"].(string)
	return &IDToken{UID: sub, Email: email, Claims: mc}, nil
}

// VerifyUser resolves a bearer ID token to the caller's profile. ID
// tokens obtained by signing in with a capability token carry the
// spectator role and are never accepted as primary users.
func (v *IDTokenVerifier) VerifyUser(ctx context.Context, raw string) (*models.Profile, error) {
	tok, err := v.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if role, _ := tok.Claims["role"].(string); role == capability.RoleSpectator {
		return nil, fmt.Errorf("%w: spectator token presented as user", ErrUnauthorized)
	}
	return &models.Profile{UID: tok.UID, Email: tok.Email}, nil
}

// Verify implements capability.Verifier for spectators that exchanged
// their capability token for an ID token. Developer claims are promoted
// to the top level of ID tokens.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*capability.Claims, error) {
	tok, err := v.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capability.ErrInvalidToken, err)
	}
	return capability.ClaimsFromMap(tok.UID, tok.Claims)
}

// publicKey returns the certificate key for kid, refreshing the cached
// set when it is stale or does not contain kid.
func (v *IDTokenVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && v.now().Before(v.keysExpiry) {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing certificate for kid %q", kid)
	}
	return key, nil
}

// refreshKeys downloads the certificate set. Caller holds v.mu.
func (v *IDTokenVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create certs request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("certs request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read certs: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("certs endpoint status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("failed to parse certs: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return fmt.Errorf("failed to parse cert %s: %w", kid, err)
		}
		keys[kid] = key
	}

	v.keys = keys
	v.keysExpiry = v.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

// maxAge extracts max-age from a Cache-Control header.
func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimPrefix(part, "max-age="))
		if err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCertsTTL
}

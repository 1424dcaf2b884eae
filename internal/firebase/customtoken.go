package firebase

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/parley-chat/backend/internal/capability"
)

const customTokenAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"

// Custom tokens must be exchanged within an hour of minting. The
// spectator deadline lives in the developer claims and is independent.
const customTokenLifetime = time.Hour

var reservedClaims = map[string]bool{
	"acr": true, "amr": true, "at_hash": true, "aud": true, "auth_time": true,
	"azp": true, "cnf": true, "c_hash": true, "exp": true, "firebase": true,
	"iat": true, "iss": true, "jti": true, "nbf": true, "nonce": true, "sub": true,
}

// CustomTokenSigner mints Firebase custom tokens signed with the service
// account key. It also verifies tokens it minted, so the backend can
// accept a pasted capability token without a round trip to Google.
type CustomTokenSigner struct {
	email string
	key   *rsa.PrivateKey
	now   func() time.Time
}

var (
	_ capability.Signer   = (*CustomTokenSigner)(nil)
	_ capability.Verifier = (*CustomTokenSigner)(nil)
)

// NewCustomTokenSigner creates a signer for sa.
func NewCustomTokenSigner(sa *ServiceAccount) *CustomTokenSigner {
	return &CustomTokenSigner{email: sa.ClientEmail, key: sa.key, now: time.Now}
}

// SignCustomToken implements capability.Signer.
func (s *CustomTokenSigner) SignCustomToken(uid string, claims map[string]interface{}) (string, error) {
	if uid == "" || len(uid) > 128 {
		return "", errors.New("firebase: uid must be 1-128 characters")
	}
	for name := range claims {
		if reservedClaims[name] {
			return "", fmt.Errorf("firebase: developer claim %q is reserved", name)
		}
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":    s.email,
		"sub":    s.email,
		"aud":    customTokenAudience,
		"iat":    now.Unix(),
		"exp":    now.Add(customTokenLifetime).Unix(),
		"uid":    uid,
		"claims": claims,
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign custom token: %w", err)
	}
	return signed, nil
}

// Verify implements capability.Verifier for tokens minted by this signer.
// The one-hour exchange window does not apply here; the spectator's
// authority is bounded by the expiresAt developer claim instead.
func (s *CustomTokenSigner) Verify(ctx context.Context, raw string) (*capability.Claims, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capability.ErrInvalidToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, capability.ErrInvalidToken
	}
	if iss, _ := mc["iss"].(string); iss != s.email {
		return nil, fmt.Errorf("%w: unexpected issuer", capability.ErrInvalidToken)
	}
	if aud, _ := mc["aud"].(string); aud != customTokenAudience {
		return nil, fmt.Errorf("%w: unexpected audience", capability.ErrInvalidToken)
	}
	uid, _ := mc["uid"].(string)
	custom, _ := mc["claims"].(map[string]interface{})
	return capability.ClaimsFromMap(uid, custom)
}

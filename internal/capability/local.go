package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/parley-chat/backend/internal/models"
)

const (
	localIssuer     = "parley-local"
	localUserIssuer = "parley-local-user"
)

// LocalAuthority signs and verifies spectator tokens with a shared HMAC
// secret. It stands in for the identity provider when the server runs on
// the in-memory store.
type LocalAuthority struct {
	secret []byte
	now    func() time.Time
}

// NewLocalAuthority creates a LocalAuthority using secret.
func NewLocalAuthority(secret []byte) *LocalAuthority {
	return &LocalAuthority{secret: secret, now: time.Now}
}

// SignCustomToken implements Signer.
func (a *LocalAuthority) SignCustomToken(uid string, claims map[string]interface{}) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("capability: local signing secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    localIssuer,
		"sub":    uid,
		"uid":    uid,
		"iat":    a.now().Unix(),
		"claims": claims,
	})
	return token.SignedString(a.secret)
}

// Verify implements Verifier. Expiry is not enforced here; callers run
// Authorize against the embedded deadline.
func (a *LocalAuthority) Verify(ctx context.Context, raw string) (*Claims, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	uid, _ := mc["uid"].(string)
	custom, _ := mc["claims"].(map[string]interface{})
	return ClaimsFromMap(uid, custom)
}

// SignUserToken mints a development identity token for a primary user.
// It is only accepted by VerifyUser, never as a capability.
func (a *LocalAuthority) SignUserToken(profile models.Profile, lifetime time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("capability: local signing secret is empty")
	}
	if profile.UID == "" {
		return "", errors.New("capability: uid is required")
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   localUserIssuer,
		"sub":   profile.UID,
		"email": profile.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(lifetime).Unix(),
	})
	return token.SignedString(a.secret)
}

// VerifyUser resolves a token minted by SignUserToken.
func (a *LocalAuthority) VerifyUser(ctx context.Context, raw string) (*models.Profile, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(localUserIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, _ := mc.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	email, _ := mc["email"].(string)
	return &models.Profile{UID: sub, Email: email}, nil
}

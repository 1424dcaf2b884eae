package session

import (
	"context"
	"errors"
	"time"

	"github.com/parley-chat/backend/internal/capability"
)

// localCredentialLifetime mirrors the identity provider's ID-token
// lifetime so refresh rounds behave the same against either provider.
const localCredentialLifetime = time.Hour

// LocalSpectatorProvider activates spectators without an identity
// provider round trip: the capability token itself is the credential.
type LocalSpectatorProvider struct {
	verifier capability.Verifier
	now      func() time.Time
}

var _ SpectatorProvider = (*LocalSpectatorProvider)(nil)

// NewLocalSpectatorProvider creates a provider that checks tokens with v.
func NewLocalSpectatorProvider(v capability.Verifier) *LocalSpectatorProvider {
	return &LocalSpectatorProvider{verifier: v, now: time.Now}
}

// SignInWithToken implements SpectatorProvider.
func (p *LocalSpectatorProvider) SignInWithToken(ctx context.Context, token string) (*Credential, error) {
	claims, err := p.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Credential{
		UID:          claims.UID,
		IDToken:      token,
		RefreshToken: token,
		ExpiresAt:    p.now().Add(localCredentialLifetime),
		Claims:       claims.CustomClaims(),
	}, nil
}

// Refresh implements SpectatorProvider by re-verifying the token.
func (p *LocalSpectatorProvider) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil || cred.RefreshToken == "" {
		return nil, ErrRevoked
	}
	next, err := p.SignInWithToken(ctx, cred.RefreshToken)
	if errors.Is(err, capability.ErrInvalidToken) {
		return nil, ErrRevoked
	}
	return next, err
}

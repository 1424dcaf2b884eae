package session

import (
	"context"
	"errors"
	"time"
)

// ErrRevoked is returned by providers when the identity provider refuses
// to refresh a credential (disabled account, revoked refresh token).
var ErrRevoked = errors.New("session: credential revoked")

// Credential is what an identity provider hands back after sign-in or
// refresh. Claims holds the decoded ID-token claims, including any
// developer claims minted into a custom token.
type Credential struct {
	UID          string
	Email        string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	Claims       map[string]interface{}
}

// PrimaryProvider authenticates registered accounts.
type PrimaryProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Credential, error)
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// SpectatorProvider exchanges a capability token for a spectator credential.
type SpectatorProvider interface {
	SignInWithToken(ctx context.Context, token string) (*Credential, error)
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

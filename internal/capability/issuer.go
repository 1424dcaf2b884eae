package capability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Signer mints a signed identity-provider token for a synthetic uid with
// the given developer claims.
type Signer interface {
	SignCustomToken(uid string, claims map[string]interface{}) (string, error)
}

// Verifier turns a presented token into spectator claims. Signature and
// issuer checks are the verifier's job; deadline and room scope are
// checked separately by Authorize.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Issuer mints spectator capability tokens. Nothing about issued tokens
// is persisted, so a token cannot be revoked before it expires.
type Issuer struct {
	signer Signer
	now    func() time.Time
}

// NewIssuer creates an Issuer backed by signer.
func NewIssuer(signer Signer) *Issuer {
	return &Issuer{signer: signer, now: time.Now}
}

// IssueToken mints a token granting read access to roomIDs for
// TokenLifetime. Duplicate ids collapse.
func (i *Issuer) IssueToken(roomIDs []string) (string, error) {
	claims, err := i.claimsFor(roomIDs)
	if err != nil {
		return "", err
	}
	token, err := i.signer.SignCustomToken(claims.UID, claims.CustomClaims())
	if err != nil {
		return "", fmt.Errorf("failed to sign spectator token: %w", err)
	}
	return token, nil
}

func (i *Issuer) claimsFor(roomIDs []string) (*Claims, error) {
	if len(roomIDs) == 0 {
		return nil, ErrInvalidRequest
	}
	access := make(map[string]bool, len(roomIDs))
	for _, id := range roomIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: blank room id", ErrInvalidRequest)
		}
		access[id] = true
	}

	issued := i.now()
	return &Claims{
		// Unique only at millisecond granularity.
		UID:        fmt.Sprintf("spectator_%d", issued.UnixMilli()),
		Role:       RoleSpectator,
		RoomAccess: access,
		ExpiresAt:  issued.Add(TokenLifetime).UnixMilli(),
	}, nil
}

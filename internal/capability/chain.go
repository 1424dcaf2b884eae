package capability

import (
	"context"
	"errors"
)

// Chain tries each verifier in order and returns the first success. It
// lets an endpoint accept both exchanged ID tokens and raw capability
// tokens.
type Chain []Verifier

// Verify implements Verifier.
func (c Chain) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var errs []error
	for _, v := range c {
		claims, err := v.Verify(ctx, token)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrInvalidToken
	}
	return nil, errors.Join(append([]error{ErrInvalidToken}, errs...)...)
}

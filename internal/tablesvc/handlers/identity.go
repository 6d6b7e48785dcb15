package handlers

import (
	"context"

	"github.com/go-chi/jwtauth"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
)

// Identity is what the token verifier yields for a caller. The core
// trusts this result.
type Identity struct {
	UserID  int64
	IsAdmin bool
}

// IdentityVerifier resolves the authenticated caller from the request
// context. The JWT implementation below is the production one; tests
// substitute a stub.
type IdentityVerifier interface {
	Verify(ctx context.Context) (Identity, error)
}

// JWTVerifier reads the claims placed in the context by the jwtauth
// middleware.
type JWTVerifier struct{}

func (JWTVerifier) Verify(ctx context.Context) (Identity, error) {
	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return Identity{}, models.ErrForbidden
	}

	id := Identity{}
	if v, ok := claims["user_id"].(float64); ok {
		id.UserID = int64(v)
	}
	if v, ok := claims["is_admin"].(bool); ok {
		id.IsAdmin = v
	}
	if id.UserID == 0 {
		return Identity{}, models.ErrForbidden
	}
	return id, nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lifeline/pkg/types"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

var ErrInvalidToken = errors.New("invalid access token")

// TokenVerifier turns a bearer token into the caller's identity. Tokens are
// issued elsewhere.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (types.Principal, error)
}

// JWKSVerifier validates signed JWTs against a cached key set. The user id is
// the sub claim; the role is read from roleClaim, which may hold a string or
// a list of groups.
type JWKSVerifier struct {
	cache     *jwk.Cache
	jwksURL   string
	roleClaim string
}

func NewJWKSVerifier(cache *jwk.Cache, jwksURL, roleClaim string) *JWKSVerifier {
	return &JWKSVerifier{cache: cache, jwksURL: jwksURL, roleClaim: roleClaim}
}

func (v *JWKSVerifier) Verify(ctx context.Context, raw string) (types.Principal, error) {
	set, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return types.Principal{}, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(raw),
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
	)
	if err != nil {
		return types.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return principalFromToken(token, v.roleClaim)
}

func principalFromToken(token jwt.Token, roleClaim string) (types.Principal, error) {
	userID, ok := token.Subject()
	if !ok || userID == "" {
		return types.Principal{}, fmt.Errorf("%w: no subject claim", ErrInvalidToken)
	}

	principal := types.Principal{UserID: userID, Role: types.RoleUser}

	var role string
	if err := token.Get(roleClaim, &role); err == nil {
		if types.Role(role) == types.RoleAdmin {
			principal.Role = types.RoleAdmin
		}
		return principal, nil
	}

	var groups []string
	if err := token.Get(roleClaim, &groups); err == nil {
		for _, g := range groups {
			if types.Role(g) == types.RoleAdmin {
				principal.Role = types.RoleAdmin
			}
		}
	}

	return principal, nil
}

// DevVerifier trusts the token text itself: "usr_1" is a user, "usr_1:admin"
// an admin. Only enabled by serve --insecure-dev-auth.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, raw string) (types.Principal, error) {
	userID, role, _ := strings.Cut(strings.TrimSpace(raw), ":")
	if userID == "" {
		return types.Principal{}, ErrInvalidToken
	}

	principal := types.Principal{UserID: userID, Role: types.RoleUser}
	if types.Role(role) == types.RoleAdmin {
		principal.Role = types.RoleAdmin
	}
	return principal, nil
}

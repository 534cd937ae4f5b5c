package auth

import (
	"context"
	"net/http"
)

type contextKey string

var authCtxKey contextKey = "auth"

// AuthContext is the identity attached to a request by a provider.
type AuthContext struct {
	AuthMethod string
	UserName   string
	// Principal is the principal collection path, e.g. "/alice/".
	Principal string
}

func NewContext(ctx context.Context, a *AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey, a)
}

func FromContext(ctx context.Context) (*AuthContext, bool) {
	a, ok := ctx.Value(authCtxKey).(*AuthContext)
	return a, ok
}

// PrincipalFromContext returns the principal path of the request, or
// "" when the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) string {
	if a, ok := FromContext(ctx); ok {
		return a.Principal
	}
	return ""
}

// Abstracts the authentication backend for the server.
type AuthProvider interface {
	// Returns HTTP middleware for performing authentication.
	Middleware() func(http.Handler) http.Handler
}

package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/davstore/davstore/internal/config"
)

// NewFromURL builds the provider named by authURL. An empty URL yields
// the static provider: every request acts as the configured principal.
func NewFromURL(cfg *config.Config, authURL string) (AuthProvider, error) {
	if authURL == "" {
		return NewStaticAuth(cfg.Storage.CurrentUserPrincipal), nil
	}

	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing auth URL: %s", err.Error())
	}

	switch u.Scheme {
	case "basic":
		return NewBasicAuth(cfg.App.Name, cfg.HTTP.User, cfg.HTTP.Password)
	default:
		return nil, fmt.Errorf("no auth provider found for %s:// URL", u.Scheme)
	}
}

// StaticAuth assigns a fixed principal to every request.
type StaticAuth struct {
	principal string
}

func NewStaticAuth(principal string) AuthProvider {
	if !strings.HasSuffix(principal, "/") {
		principal += "/"
	}
	if !strings.HasPrefix(principal, "/") {
		principal = "/" + principal
	}
	return &StaticAuth{principal: principal}
}

func (s *StaticAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := AuthContext{
				AuthMethod: "static",
				UserName:   strings.Trim(s.principal, "/"),
				Principal:  s.principal,
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), &authCtx)))
		})
	}
}

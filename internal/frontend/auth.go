package frontend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-polytope-gateway/internal/federation"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// ErrUnauthenticated maps to 401.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator resolves the caller's identity snapshot from a request.
// Concrete providers (OIDC, API keys) plug in here; the gateway ships the
// plain header provider for development and the federation trust provider.
type Authenticator interface {
	Authenticate(c *gin.Context) (request.User, error)
}

// PlainAuthenticator trusts identity headers set by a fronting proxy:
// X-Polytope-User, X-Polytope-Realm and X-Polytope-Roles (comma separated).
type PlainAuthenticator struct{}

func (PlainAuthenticator) Authenticate(c *gin.Context) (request.User, error) {
	username := c.GetHeader("X-Polytope-User")
	realm := c.GetHeader("X-Polytope-Realm")
	if username == "" || realm == "" {
		return request.User{}, ErrUnauthenticated
	}
	u := request.NewUser(username, realm)
	if roles := c.GetHeader("X-Polytope-Roles"); roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	return u, nil
}

// FederationAuthenticator authenticates forwarded requests bearing the shared
// federation secret. Authentication is skipped in favor of the secret check;
// authorization against local collection roles still happens downstream.
type FederationAuthenticator struct {
	Trust federation.Trust
}

func (f FederationAuthenticator) Authenticate(c *gin.Context) (request.User, error) {
	return f.Trust.Authenticate(c.GetHeader("Authorization"), c.GetHeader(federation.ForwardedHeader))
}

// MultiAuthenticator tries providers in order, dispatching federation
// credentials to the federation provider first.
type MultiAuthenticator struct {
	Federation *FederationAuthenticator
	Fallback   Authenticator
}

func (m MultiAuthenticator) Authenticate(c *gin.Context) (request.User, error) {
	if m.Federation != nil && federation.IsFederation(c.GetHeader("Authorization")) {
		return m.Federation.Authenticate(c)
	}
	if m.Fallback == nil {
		return request.User{}, ErrUnauthenticated
	}
	return m.Fallback.Authenticate(c)
}

// authError maps authentication failures onto wire status codes.
func authError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return 401, "authentication required"
	case errors.Is(err, federation.ErrTooManyHops):
		return 403, err.Error()
	case errors.Is(err, federation.ErrRealmNotAllowed),
		errors.Is(err, federation.ErrBadCredential):
		return 403, "forbidden"
	default:
		return 401, fmt.Sprintf("authentication failed: %v", err)
	}
}

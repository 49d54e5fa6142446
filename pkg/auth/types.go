package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/murmur/pkg/contextkeys"
)

// ErrInvalidToken is returned when a bearer token is malformed or fails
// verification
var ErrInvalidToken = errors.New("invalid bearer token")

// User is an authenticated account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Authenticator resolves the user behind a request. It returns a nil user
// and nil error for anonymous requests.
type Authenticator interface {
	CurrentUser(r *http.Request) (*User, error)
}

// UserFromContext returns the authenticated user stored by the permission
// middleware, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(contextkeys.UserKey).(*User)
	return user
}

// HeaderAuthenticator trusts a user id header set by an upstream proxy. It
// is meant for development and for deployments behind an authenticating
// gateway.
type HeaderAuthenticator struct {
	Header string
}

// NewHeaderAuthenticator creates a HeaderAuthenticator reading header, or
// X-User-ID when header is empty
func NewHeaderAuthenticator(header string) *HeaderAuthenticator {
	if header == "" {
		header = "X-User-ID"
	}
	return &HeaderAuthenticator{Header: header}
}

// CurrentUser implements Authenticator
func (a *HeaderAuthenticator) CurrentUser(r *http.Request) (*User, error) {
	id := r.Header.Get(a.Header)
	if id == "" {
		return nil, nil
	}
	return &User{ID: id}, nil
}

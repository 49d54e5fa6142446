// Package auth resolves the user behind an HTTP request.
//
// The permission middleware depends only on the Authenticator interface.
// Two implementations are provided:
//
//	authn, err := auth.NewOIDCAuthenticator(ctx, issuer, clientID) // Authorization: Bearer <id token>
//	authn := auth.NewHeaderAuthenticator("X-User-ID")              // trusted gateway header
//
// Anonymous requests yield a nil user and no error; a present but invalid
// token yields ErrInvalidToken.
package auth

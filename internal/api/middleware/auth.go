// Package middleware holds the HTTP middleware mounted in front of the
// assistant routes.
package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/matiasleandrokruk/lightspeed/internal/api/ctxkeys"
	pkgauth "github.com/matiasleandrokruk/lightspeed/pkg/auth"
)

// Authenticator resolves the identity of a request. *pkgauth.AAP satisfies it.
type Authenticator interface {
	Authenticate(r *http.Request) (pkgauth.Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (pkgauth.Identity, error)

// Authenticate calls f(r).
func (f AuthenticatorFunc) Authenticate(r *http.Request) (pkgauth.Identity, error) {
	return f(r)
}

// NoopAuthenticator trusts the user_id query parameter.
var NoopAuthenticator = AuthenticatorFunc(func(r *http.Request) (pkgauth.Identity, error) {
	return pkgauth.Noop(r), nil
})

// AuthMiddleware resolves the caller and injects it into the context.
//
// Flow:
//  1. Ask the Authenticator for the identity
//  2. pkgauth.ErrUnauthorized → 401, any other failure → 500
//  3. Inject ctxkeys.UserID, ctxkeys.UserName and ctxkeys.UserToken
//  4. Call next handler
func AuthMiddleware(a Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	if a == nil {
		a = NoopAuthenticator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				if errors.Is(err, pkgauth.ErrUnauthorized) {
					logger.InfoContext(r.Context(), "request rejected", slog.String("error", err.Error()))
					writeDetail(w, http.StatusUnauthorized, "Unauthorized", err.Error())
					return
				}
				logger.ErrorContext(r.Context(), "authentication failed", slog.String("error", err.Error()))
				writeDetail(w, http.StatusInternalServerError, "Authentication failed", err.Error())
				return
			}

			ctx := r.Context()
			ctx = ctxkeys.WithValue(ctx, ctxkeys.UserID, id.UserID)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.UserName, id.UserName)
			ctx = ctxkeys.WithValue(ctx, ctxkeys.UserToken, id.Token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeDetail writes the {"detail":{"response","cause"}} body the handlers use too.
func writeDetail(w http.ResponseWriter, status int, response, cause string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"detail": map[string]string{"response": response, "cause": cause},
	})
}

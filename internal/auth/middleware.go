package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

// WithIdentity stores an authenticated identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.Username != ""
}

// Middleware authenticates requests with HTTP Basic credentials.
func Middleware(authn Authenticator, realm string) func(http.Handler) http.Handler {
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, challenge)
				return
			}

			id, err := authn.Authenticate(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, ErrInvalidCredentials) {
					log.Warn().Str("username", username).Msg("auth: rejected credentials")
					unauthorized(w, challenge)
					return
				}
				log.Error().Err(err).Msg("auth: authentication lookup failed")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Authentication unavailable"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
}

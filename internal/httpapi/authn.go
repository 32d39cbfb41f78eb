package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"todoapp.io/internal/auth"
)

const (
	authHeader   = "Authorization"
	adminKeyName = "x-api-key"
	bearer       = "Bearer "
)

var errNoCredential = errors.New("no credential")

// requireToken admits requests carrying an access token accepted by v. A nil verifier
// means the realm was never configured and every request fails closed.
func (a *API) requireToken(v TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v == nil {
			logFailure(r, errors.New("token verifier not configured"))
			writeError(w, r, http.StatusInternalServerError, "Server misconfigured")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "No credential provided")
			return
		}
		principal, err := v.Verify(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errNoCredential
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoCredential
	}
	return token, nil
}

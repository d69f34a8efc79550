package api

import (
	"net/http"
	"strings"
)

// AdminDependencies checks admin tokens.
type AdminDependencies interface {
	Authorize(token string) error
}

// RequireAdmin rejects requests without a valid bearer token.
func RequireAdmin(auth AdminDependencies, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.admin"
		if err := auth.Authorize(bearer(r)); err != nil {
			status, code := statusFor(err)
			writeError(w, status, code, Wrap(op, err))
			return
		}
		next(w, r)
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

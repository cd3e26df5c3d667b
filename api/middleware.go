package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/warp/calculator-engine/auth"
)

// RequireAuth runs the authorization gate in front of protected routes.
// Rejected tokens get 401, a gate that could not decide gets 500, and a
// valid token whose policy does not cover the route gets 403.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := h.Gate.Authorize(r.Context(), r.Header.Get("Authorization"))

		switch {
		case errors.Is(d.Err, auth.ErrAuthServiceUnavailable):
			writeError(w, http.StatusInternalServerError, "Authorizer unavailable", nil)
			return
		case !d.Allowed:
			zerolog.Ctx(r.Context()).Debug().Err(d.Err).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		case !d.Policy.Allows(r.Method, r.URL.Path):
			writeError(w, http.StatusForbidden, "User is not authorized to access this resource", nil)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("principal", d.PrincipalID)
		})
		next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), d)))
	})
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/shopora/checkout/internal/platform/requestctx"
)

// IdentityMiddleware resolves the proxy-injected user identity header and
// stores it on the request context so request logs and handlers share one
// resolved identity.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(identityHeader)); userID != "" {
			ctx := requestctx.WithIdentity(r.Context(), requestctx.Identity{UserID: userID})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

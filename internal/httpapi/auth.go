package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"rms/restaurant-service/internal/store"
)

type authContextKey struct{}

// AuthMiddleware resolves the bearer session and attaches it to the request
// context. Capability checks happen per-handler via requireCapability so
// that a denied role never reaches the store.
func AuthMiddleware(st store.RestaurantStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := st.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	session, ok := value.(store.Session)
	if !ok {
		return store.Session{}, false
	}
	return session, true
}

func requireCapability(w http.ResponseWriter, r *http.Request, capability string) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	if !store.Allows(session.Role, capability) {
		writeError(w, http.StatusForbidden, "permission_denied", "role does not allow this operation")
		return false
	}
	return true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	// The kitchen feed authenticates during its own handshake.
	if strings.HasPrefix(r.URL.Path, "/kitchen/") {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/auth/login":
		return r.Method == http.MethodPost
	default:
		return r.Method == http.MethodOptions
	}
}

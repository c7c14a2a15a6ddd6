package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Authenticator turns Service checks into chi middleware.
type Authenticator struct {
	svc *Service
	lg  *zap.SugaredLogger
}

func NewAuthenticator(svc *Service, lg *zap.SugaredLogger) *Authenticator {
	return &Authenticator{svc: svc, lg: lg}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// credentials splits the request into a bearer JWT and an API key. A Bearer
// value carrying the API key prefix is treated as a key.
func credentials(r *http.Request) (bearer, apiKey string) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	switch {
	case strings.HasPrefix(h, "Bearer "):
		v := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if strings.HasPrefix(v, APIKeyPrefix) {
			apiKey = v
		} else {
			bearer = v
		}
	case strings.HasPrefix(h, "ApiKey "):
		apiKey = strings.TrimSpace(strings.TrimPrefix(h, "ApiKey "))
	}
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	return bearer, apiKey
}

func (a *Authenticator) user(w http.ResponseWriter, r *http.Request, bearer string) (*http.Request, bool) {
	u, c, err := a.svc.Authenticate(r.Context(), bearer)
	switch {
	case err == nil:
		return r.WithContext(WithUser(r.Context(), u, c)), true
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, ErrAccountInactive):
		writeError(w, http.StatusUnauthorized, "User not found or inactive")
	default:
		a.lg.Errorw("authenticate token", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
	return r, false
}

func (a *Authenticator) key(w http.ResponseWriter, r *http.Request, raw string, perms []string) (*http.Request, bool) {
	k, err := a.svc.AuthenticateKey(r.Context(), raw, r.RemoteAddr)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidAPIKey):
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return r, false
	case errors.Is(err, ErrIPNotAllowed):
		writeError(w, http.StatusForbidden, "Client address not allowed")
		return r, false
	default:
		a.lg.Errorw("authenticate api key", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return r, false
	}
	for _, p := range perms {
		if !k.HasPermission(p) {
			writeError(w, http.StatusForbidden, "Insufficient permissions")
			return r, false
		}
	}
	if err := a.svc.RecordKeyUse(r.Context(), k); err != nil {
		a.lg.Errorw("record api key use", "error", err, "key_id", k.ID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return r, false
	}
	return r.WithContext(WithAPIKey(r.Context(), k)), true
}

// RequireAuth admits requests carrying a valid access token for an active
// user.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, _ := credentials(r)
		if bearer == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		r, ok := a.user(w, r, bearer)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, CurrentUser(r.Context()).Role) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequirePermission admits users whose role or permission list grants every
// perm.
func (a *Authenticator) RequirePermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := CurrentUser(r.Context())
			for _, p := range perms {
				if !u.HasPermission(p) {
					writeError(w, http.StatusForbidden, "Insufficient permissions")
					return
				}
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// RequireAPIKey admits requests carrying a valid API key holding perms.
func (a *Authenticator) RequireAPIKey(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, raw := credentials(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "API key required")
				return
			}
			r, ok := a.key(w, r, raw, perms)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCredential admits either a user token, which must grant userPerm
// when it is set, or an API key granting keyPerm.
func (a *Authenticator) RequireCredential(userPerm, keyPerm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, raw := credentials(r)
			var ok bool
			switch {
			case bearer != "":
				if r, ok = a.user(w, r, bearer); !ok {
					return
				}
				if userPerm != "" && !CurrentUser(r.Context()).HasPermission(userPerm) {
					writeError(w, http.StatusForbidden, "Insufficient permissions")
					return
				}
			case raw != "":
				if r, ok = a.key(w, r, raw, []string{keyPerm}); !ok {
					return
				}
			default:
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"rigdata/internal/auth"
	"rigdata/internal/metrics"
	"rigdata/internal/models"
	"rigdata/internal/validation"
)

// badRequest writes decode and validation failures. It reports false when
// err is something else.
func badRequest(w http.ResponseWriter, err error) bool {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, errNoInput), errors.Is(err, errBadJSON):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		return false
	}
	return true
}

func tokenResponse(msg string, u *models.User, pair auth.Pair, ttl time.Duration, loc *time.Location) map[string]any {
	return map[string]any{
		"message":       msg,
		"access_token":  pair.Access.Value,
		"refresh_token": pair.Refresh.Value,
		"token_type":    "Bearer",
		"expires_in":    int(ttl.Seconds()),
		"user":          models.Localize(*u, loc),
	}
}

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func Login(svc *auth.Service, lg *zap.SugaredLogger, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		u, pair, err := svc.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
		var locked *auth.LockedError
		switch {
		case err == nil:
		case errors.As(err, &locked):
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			lg.Warnw("login refused, account locked", "username", req.Username, "locked_until", locked.Until)
			respondJSON(w, http.StatusLocked, map[string]any{
				"error":        "Account is locked due to too many failed login attempts",
				"locked_until": locked.Until.In(loc),
			})
			return
		case errors.Is(err, auth.ErrInvalidCredentials):
			metrics.LoginAttempts.WithLabelValues("invalid").Inc()
			lg.Infow("login failed", "username", req.Username, "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		case errors.Is(err, auth.ErrAccountInactive):
			metrics.LoginAttempts.WithLabelValues("inactive").Inc()
			respondError(w, http.StatusForbidden, "Account is disabled")
			return
		default:
			metrics.LoginAttempts.WithLabelValues("error").Inc()
			internalError(w, r, lg, "login", err)
			return
		}
		metrics.LoginAttempts.WithLabelValues("success").Inc()
		lg.Infow("login", "user_id", u.ID, "username", u.Username)
		respondJSON(w, http.StatusOK, tokenResponse("Login successful", u, pair, svc.Tokens().AccessTTL(), loc))
	}
}

// Refresh accepts the refresh token as a Bearer header or as
// refresh_token in the body.
func Refresh(svc *auth.Service, lg *zap.SugaredLogger, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if raw == "" {
			var body struct {
				RefreshToken string `json:"refresh_token"`
			}
			if err := decodeBody(r, &body); err != nil && !errors.Is(err, errNoInput) {
				badRequest(w, err)
				return
			}
			raw = strings.TrimSpace(body.RefreshToken)
		}
		if raw == "" {
			respondError(w, http.StatusBadRequest, "Refresh token required")
			return
		}
		u, pair, err := svc.Refresh(r.Context(), raw)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrInvalidToken):
			respondError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		case errors.Is(err, auth.ErrAccountInactive):
			respondError(w, http.StatusUnauthorized, "User not found or inactive")
			return
		default:
			internalError(w, r, lg, "refresh", err)
			return
		}
		respondJSON(w, http.StatusOK, tokenResponse("Token refreshed", u, pair, svc.Tokens().AccessTTL(), loc))
	}
}

func Me(loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := auth.CurrentUser(r.Context())
		respondJSON(w, http.StatusOK, map[string]any{"user": models.Localize(*u, loc)})
	}
}

// Logout revokes the calling session, or all of the user's sessions when
// revoke_all is set in the body or query.
func Logout(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RevokeAll bool `json:"revoke_all"`
		}
		if err := decodeBody(r, &body); err != nil && !errors.Is(err, errNoInput) {
			badRequest(w, err)
			return
		}
		all := body.RevokeAll || truthy(r.URL.Query().Get("revoke_all"))
		n, err := svc.Logout(r.Context(), auth.CurrentClaims(r.Context()), all)
		if err != nil {
			internalError(w, r, lg, "logout", err)
			return
		}
		lg.Infow("logout", "user_id", auth.CurrentUser(r.Context()).ID, "revoked", n, "all", all)
		respondJSON(w, http.StatusOK, map[string]any{
			"message":          "Logged out successfully",
			"revoked_sessions": n,
		})
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func ChangePassword(svc *auth.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		u := auth.CurrentUser(r.Context())
		err := svc.ChangePassword(r.Context(), u, req.OldPassword, req.NewPassword)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrWrongPassword):
			respondError(w, http.StatusBadRequest, "Old password is incorrect")
			return
		case errors.Is(err, auth.ErrPasswordTooShort):
			respondError(w, http.StatusBadRequest, "New password must be at least 6 characters")
			return
		default:
			internalError(w, r, lg, "change password", err)
			return
		}
		audit(r.Context(), svc.DB(), lg, "change_password", "user", u.ID, nil)
		respondMessage(w, "Password changed successfully")
	}
}

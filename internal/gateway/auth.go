package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/auth"
	"github.com/raakeshmj/imagegate/internal/store"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /api/auth/register. A fresh session cookie is
// set on success so the client can request image tokens immediately.
func (g *Gateway) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request"))
		return
	}
	if err := g.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request"))
		return
	}

	user, session, err := g.authSvc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody("Username already taken"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request"))
		return
	}

	g.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    map[string]string{"id": user.ID, "username": user.Username},
	})
}

// Login handles POST /api/auth/login. Failures are uniform 401s; the
// distinction between unknown user and wrong password stays server-side.
func (g *Gateway) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request"))
		return
	}
	if err := g.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request"))
		return
	}

	user, session, err := g.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		g.audit.LogSuspicious(r, "login_failed", map[string]interface{}{
			"username": req.Username,
		}, audit.LevelWarning, "")
		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid username or password"))
		return
	}

	g.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    map[string]string{"id": user.ID, "username": user.Username},
	})
}

// Logout handles POST /api/auth/logout.
func (g *Gateway) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := g.authSvc.Logout(r.Context(), c.Value); err != nil {
			g.log.Warn().Err(err).Msg("logout failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (g *Gateway) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

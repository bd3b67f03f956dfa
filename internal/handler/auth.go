package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/auth"
	appI18n "github.com/pavelanni/satprep/internal/i18n"
	"github.com/pavelanni/satprep/internal/model"
)

func (h *Handler) authRoutes(r chi.Router) {
	r.Post("/sign-up/email", h.handleSignUpEmail)
	r.Post("/sign-in/email", h.handleSignInEmail)
	r.Post("/sign-in/username", h.handleSignInUsername)
	r.Post("/sign-out", h.handleSignOut)
	r.Post("/forget-password", h.handleForgetPassword)
	r.Post("/reset-password", h.handleResetPassword)
	r.Post("/send-verification-email", h.handleSendVerificationEmail)
	r.Get("/get-session", h.handleGetSession)
	r.Get("/verify-email", h.handleVerifyEmail)
	r.Get("/sign-in/social/github", h.handleGitHubSignIn)
	r.Get("/callback/github", h.handleGitHubCallback)
}

type signInEmailRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInUsernameRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type forgetPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type sendVerificationRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackURL"`
}

type sessionResponse struct {
	Token    string      `json:"token"`
	User     *model.User `json:"user"`
	Warnings []string    `json:"warnings,omitempty"`
}

type statusResponse struct {
	Status bool `json:"status"`
}

// writeSession sets the session cookies and answers with the token, the user and
// any localized warnings.
func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	h.auth.SetSessionCookies(w, res.SessionWithUser())
	resp := sessionResponse{Token: res.Session.Token, User: res.User}
	for _, id := range res.Warnings {
		resp.Warnings = append(resp.Warnings, appI18n.T(r.Context(), id))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSignUpEmail(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.auth.SignUpEmail(r.Context(), req, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, r, res)
}

func (h *Handler) handleSignInEmail(w http.ResponseWriter, r *http.Request) {
	var req signInEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.auth.SignInEmail(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, r, res)
}

func (h *Handler) handleSignInUsername(w http.ResponseWriter, r *http.Request) {
	var req signInUsernameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.auth.SignInUsername(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, r, res)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), auth.TokenFromHeaders(r.Header)); err != nil {
		writeError(w, r, err)
		return
	}
	h.auth.ClearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req forgetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.auth.ForgetPassword(r.Context(), req.Email, req.RedirectTo); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

func (h *Handler) handleSendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.auth.SendVerificationEmail(r.Context(), req.Email, req.CallbackURL); err != nil {
		writeError(w, r, apperr.Internal("failed to send verification email", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

// handleGetSession answers null when the request carries no valid session.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := auth.SessionFrom(r.Context())
	if err != nil {
		writeError(w, r, apperr.Internal("failed to load session", err))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cb := r.URL.Query().Get("callbackURL"); isLocalPath(cb) {
		http.Redirect(w, r, cb, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "user": u})
}

func (h *Handler) handleGitHubSignIn(w http.ResponseWriter, r *http.Request) {
	url, err := h.auth.GitHubAuthURL(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		slog.Warn("GitHub sign-in denied", "error", e, "description", q.Get("error_description"))
		writeError(w, r, apperr.Unauthorized("GitHub sign-in was denied"))
		return
	}
	res, err := h.auth.GitHubCallback(r.Context(), q.Get("state"), q.Get("code"), requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.auth.SetSessionCookies(w, res.SessionWithUser())
	http.Redirect(w, r, "/", http.StatusFound)
}

// isLocalPath reports whether p is a same-site absolute path, so redirects cannot
// leave the site.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

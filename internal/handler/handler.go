package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/attempts"
	"github.com/pavelanni/satprep/internal/auth"
	appI18n "github.com/pavelanni/satprep/internal/i18n"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/practice"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	practice *practice.Service
	attempts *attempts.Tracker
	auth     *auth.Service
}

// New creates a new Handler.
func New(p *practice.Service, a *attempts.Tracker, au *auth.Service) *Handler {
	return &Handler{practice: p, attempts: a, auth: au}
}

// Router returns the full HTTP surface with its middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	r.Use(auth.Memo(h.auth))
	r.Use(h.checkOrigin)

	r.Route("/api", h.Routes)
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/empty.procedure", h.handleEmpty)
	r.Route("/auth", h.authRoutes)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/practiceTest.create", h.handleCreatePracticeTest)
		r.Get("/practiceTest.get", h.handleListPracticeTests)
		r.Get("/practiceTest.getById", h.handleGetPracticeTest)
		r.Get("/practiceTest.getTree", h.handleGetPracticeTestTree)
		r.Post("/testAttempts.create", h.handleCreateTestAttempt)
		r.Get("/testAttempts.get", h.handleListTestAttempts)
		r.Post("/testAttempts.update", h.handleUpdateTestAttempt)
	})
}

func (h *Handler) handleEmpty(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "Hello World")
}

// checkOrigin rejects state-changing requests sent from an untrusted Origin.
func (h *Handler) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && !h.auth.IsTrustedOrigin(origin) {
			slog.Warn("rejected request from untrusted origin", "origin", origin, "path", r.URL.Path)
			writeError(w, r, apperr.Forbidden("untrusted origin").WithMessageID("ErrUntrustedOrigin"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the session and rejects anonymous requests.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := auth.SessionFrom(r.Context())
		if err != nil {
			writeError(w, r, apperr.Internal("failed to load session", err))
			return
		}
		if sess == nil {
			writeError(w, r, apperr.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), &sess.User)))
	})
}

// callerID returns the id of the authenticated user. Only valid behind requireAuth.
func callerID(r *http.Request) string {
	if u := model.UserFromContext(r.Context()); u != nil {
		return u.ID
	}
	return ""
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// writeError maps err to its HTTP status and writes a localized error body.
// Internal details are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal("internal error", err)
	}

	msg := ae.Message
	switch {
	case ae.MessageID == "ErrPasswordLength":
		msg = appI18n.Td(ctx, ae.MessageID, map[string]any{"Min": auth.MinPasswordLength, "Max": auth.MaxPasswordLength})
	case ae.MessageID != "":
		msg = appI18n.T(ctx, ae.MessageID)
	}

	if ae.Kind == apperr.KindInternal {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
	}
	writeJSON(w, apperr.HTTPStatus(ae.Kind), errorBody{Error: errorDetail{Kind: ae.Kind, Message: msg}})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body is required").WithMessageID("ErrInvalidBody")
		}
		return apperr.BadRequest("invalid request body: " + err.Error()).WithMessageID("ErrInvalidBody")
	}
	return nil
}

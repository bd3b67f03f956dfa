package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pavelanni/satprep/internal/model"
)

// sessionClaims is the payload of the session data cookie.
type sessionClaims struct {
	Data model.SessionWithUser `json:"data"`
	jwt.RegisteredClaims
}

// TokenFromHeaders extracts the session token from a bearer header or the session cookie.
func TokenFromHeaders(h http.Header) string {
	if v := h.Get("Authorization"); v != "" {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	r := &http.Request{Header: h}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// GetSession implements Provider. A valid session data cookie for the same token
// skips the database; otherwise the session is loaded and its expiry refreshed once
// it is older than SessionUpdateAge.
func (s *Service) GetSession(ctx context.Context, h http.Header) (*model.SessionWithUser, error) {
	token := TokenFromHeaders(h)
	if token == "" {
		return nil, nil
	}

	r := &http.Request{Header: h}
	if c, err := r.Cookie(SessionDataCookie); err == nil {
		if cached := s.parseSessionData(c.Value); cached != nil && cached.Session.Token == token {
			return cached, nil
		}
	}

	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	now := s.now()
	issued := sess.ExpiresAt.Add(-SessionTTL)
	if now.Sub(issued) > SessionUpdateAge {
		expires := now.Add(SessionTTL).UTC()
		if err := s.store.TouchSession(ctx, token, expires); err != nil {
			slog.Warn("failed to refresh session expiry", "user", user.ID, "error", err)
		} else {
			sess.ExpiresAt = expires
		}
	}
	return &model.SessionWithUser{Session: *sess, User: *user}, nil
}

// signSessionData encodes a session as a short-lived HS256 token.
func (s *Service) signSessionData(swu *model.SessionWithUser) (string, error) {
	now := s.now()
	claims := sessionClaims{
		Data: *swu,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   swu.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(CookieCacheTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

func (s *Service) parseSessionData(raw string) *model.SessionWithUser {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			slog.Debug("rejected session data cookie", "error", err)
		}
		return nil
	}
	if !claims.Data.Session.ExpiresAt.After(s.now()) {
		return nil
	}
	return &claims.Data
}

// SetSessionCookies writes the session token cookie and the cached session data.
func (s *Service) SetSessionCookies(w http.ResponseWriter, swu *model.SessionWithUser) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    swu.Session.Token,
		Path:     "/",
		Expires:  swu.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	data, err := s.signSessionData(swu)
	if err != nil {
		slog.Error("failed to sign session data", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionDataCookie,
		Value:    data,
		Path:     "/",
		MaxAge:   int(CookieCacheTTL / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookies expires both session cookies.
func (s *Service) ClearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, SessionDataCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.SecureCookies,
		})
	}
}

type memoKey struct{}

// memo resolves the session for one request at most once.
type memo struct {
	once     sync.Once
	provider Provider
	header   http.Header
	sess     *model.SessionWithUser
	err      error
}

// Memo stores a per-request session slot in the context. The provider is called
// lazily on the first SessionFrom and its result is reused for the rest of the request.
func Memo(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := &memo{provider: p, header: r.Header}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), memoKey{}, m)))
		})
	}
}

// SessionFrom returns the request's session, resolving it on first use. Outside of
// Memo it returns nil.
func SessionFrom(ctx context.Context) (*model.SessionWithUser, error) {
	m, ok := ctx.Value(memoKey{}).(*memo)
	if !ok {
		return nil, nil
	}
	m.once.Do(func() {
		m.sess, m.err = m.provider.GetSession(ctx, m.header)
	})
	return m.sess, m.err
}

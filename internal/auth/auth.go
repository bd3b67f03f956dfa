// Package auth implements email/password and GitHub sign-in with database-backed
// sessions, and exposes the session lookup consumed by request handlers.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/notify"
)

// Cookie names.
const (
	SessionCookie     = "satprep.session_token"
	SessionDataCookie = "satprep.session_data"
)

// Lifetimes.
const (
	SessionTTL        = 7 * 24 * time.Hour
	SessionUpdateAge  = 24 * time.Hour
	CookieCacheTTL    = 5 * time.Minute
	ResetTokenTTL     = time.Hour
	VerifyTokenTTL    = 24 * time.Hour
	OAuthStateTTL     = 10 * time.Minute
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// Verification identifier prefixes.
const (
	resetPrefix  = "reset-password:"
	verifyPrefix = "email-verification:"
	statePrefix  = "oauth-state:"
)

// Provider resolves the session carried by request headers. A missing, invalid or
// expired token yields a nil session and a nil error.
type Provider interface {
	GetSession(ctx context.Context, h http.Header) (*model.SessionWithUser, error)
}

// Store is the persistence the auth service needs.
type Store interface {
	CreateUserWithAccount(ctx context.Context, u *model.User, a *model.Account) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	MarkEmailVerified(ctx context.Context, email string) error

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, userID, providerID string) (*model.Account, error)
	GetAccountByProvider(ctx context.Context, providerID, accountID string) (*model.Account, error)
	ResetPassword(ctx context.Context, identifier, passwordHash string) (*model.Verification, error)
	UpdateAccountTokens(ctx context.Context, a *model.Account) error

	CreateSession(ctx context.Context, userID string, ipAddress, userAgent *string, ttl time.Duration) (*model.Session, error)
	GetSessionByToken(ctx context.Context, token string) (*model.Session, error)
	TouchSession(ctx context.Context, token string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteUserSessions(ctx context.Context, userID string) error

	CreateVerification(ctx context.Context, identifier, value string, ttl time.Duration) (*model.Verification, error)
	ConsumeVerification(ctx context.Context, identifier string) (*model.Verification, error)
}

// Config holds the auth settings loaded at startup.
type Config struct {
	Secret             []byte
	BaseURL            string
	TrustedOrigins     []string
	SecureCookies      bool
	GitHubClientID     string
	GitHubClientSecret string
}

// Service implements Provider and the sign-in flows.
type Service struct {
	store   Store
	mailer  notify.Mailer
	cfg     Config
	oauth   *oauth2.Config
	trusted map[string]bool
	now     func() time.Time

	// githubAPI is the GitHub REST base URL.
	githubAPI string
}

func New(store Store, mailer notify.Mailer, cfg Config) (*Service, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("auth secret must be at least 16 bytes")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	s := &Service{
		store:     store,
		mailer:    mailer,
		cfg:       cfg,
		trusted:   make(map[string]bool),
		now:       time.Now,
		githubAPI: "https://api.github.com",
	}
	if origin := originOf(cfg.BaseURL); origin != "" {
		s.trusted[origin] = true
	}
	for _, o := range cfg.TrustedOrigins {
		if origin := originOf(strings.TrimSpace(o)); origin != "" {
			s.trusted[origin] = true
		}
	}
	if cfg.GitHubClientID != "" {
		s.oauth = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  cfg.BaseURL + "/api/auth/callback/github",
			Scopes:       []string{"read:user", "user:email"},
		}
	}
	return s, nil
}

// RequestMeta describes the client that opened a session.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func (m RequestMeta) pointers() (*string, *string) {
	var ip, ua *string
	if m.IPAddress != "" {
		ip = &m.IPAddress
	}
	if m.UserAgent != "" {
		ua = &m.UserAgent
	}
	return ip, ua
}

// IsTrustedOrigin reports whether origin may issue state-changing requests.
func (s *Service) IsTrustedOrigin(origin string) bool {
	return s.trusted[originOf(origin)]
}

// originOf normalizes a URL to scheme://host[:port].
func originOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/satprep/internal/apperr"
	appI18n "github.com/pavelanni/satprep/internal/i18n"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/notify"
	"github.com/pavelanni/satprep/internal/store"
)

var (
	validate      = validator.New(validator.WithRequiredStructEnabled())
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,30}$`)
)

// SignUpInput is the email sign-up request.
type SignUpInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password"`
	Username    string `json:"username,omitempty"`
	CallbackURL string `json:"callbackURL,omitempty"`
}

// Result is returned by every flow that opens a session. Warnings carry i18n
// message ids for non-fatal problems.
type Result struct {
	Session  *model.Session `json:"session"`
	User     *model.User    `json:"user"`
	Warnings []string       `json:"warnings,omitempty"`
}

// SessionWithUser returns the result as the shape handed to request handlers.
func (r *Result) SessionWithUser() *model.SessionWithUser {
	return &model.SessionWithUser{Session: *r.Session, User: *r.User}
}

func checkPassword(pw string) error {
	if n := len(pw); n < MinPasswordLength || n > MaxPasswordLength {
		return apperr.BadRequest(fmt.Sprintf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)).
			WithMessageID("ErrPasswordLength")
	}
	return nil
}

func hashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignUpEmail creates a user with a credential account and opens a session. A failed
// verification email does not fail the sign-up; it is logged and reported as a warning.
func (s *Service) SignUpEmail(ctx context.Context, in SignUpInput, meta RequestMeta) (*Result, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "Email" {
			return nil, apperr.BadRequest("invalid email").WithMessageID("ErrInvalidEmail")
		}
		return nil, apperr.BadRequest("name and email are required")
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}

	u := &model.User{ID: uuid.NewString(), Name: in.Name, Email: in.Email}
	if in.Username != "" {
		if !usernameRegex.MatchString(in.Username) {
			return nil, apperr.BadRequest("invalid username").WithMessageID("ErrInvalidUsername")
		}
		normalized := strings.ToLower(in.Username)
		display := in.Username
		u.Username, u.DisplayUsername = &normalized, &display

		existing, err := s.store.GetUserByUsername(ctx, normalized)
		if err != nil {
			return nil, apperr.Internal("failed to check username", err)
		}
		if existing != nil {
			return nil, apperr.Conflict("username already taken").WithMessageID("ErrUsernameTaken")
		}
	}

	existing, err := s.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internal("failed to check email", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("email already registered").WithMessageID("ErrEmailTaken")
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("failed to create account", err)
	}
	acc := &model.Account{AccountID: u.ID, ProviderID: model.ProviderCredential, Password: &hash}
	if err := s.store.CreateUserWithAccount(ctx, u, acc); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, apperr.Conflict("email or username already registered").WithMessageID("ErrEmailTaken")
		}
		return nil, apperr.Internal("failed to create account", err)
	}

	res, err := s.openSession(ctx, u, meta)
	if err != nil {
		return nil, err
	}
	if err := s.SendVerificationEmail(ctx, u.Email, in.CallbackURL); err != nil {
		slog.Warn("verification email failed", "user", u.ID, "email", u.Email, "error", err)
		res.Warnings = append(res.Warnings, "WarnVerificationEmailFailed")
	}
	slog.Info("user signed up", "user", u.ID, "email", u.Email)
	return res, nil
}

// SignInEmail verifies a password against the user's credential account.
func (s *Service) SignInEmail(ctx context.Context, email, password string, meta RequestMeta) (*Result, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, apperr.Internal("failed to sign in", err)
	}
	return s.signInPassword(ctx, u, password, meta)
}

// SignInUsername is SignInEmail keyed by the normalized username.
func (s *Service) SignInUsername(ctx context.Context, username, password string, meta RequestMeta) (*Result, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return nil, apperr.Internal("failed to sign in", err)
	}
	return s.signInPassword(ctx, u, password, meta)
}

func (s *Service) signInPassword(ctx context.Context, u *model.User, password string, meta RequestMeta) (*Result, error) {
	invalid := apperr.Unauthorized("invalid credentials").WithMessageID("ErrInvalidCredentials")
	if u == nil {
		return nil, invalid
	}
	acc, err := s.store.GetAccount(ctx, u.ID, model.ProviderCredential)
	if err != nil {
		return nil, apperr.Internal("failed to sign in", err)
	}
	if acc == nil || acc.Password == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*acc.Password), []byte(password)); err != nil {
		slog.Info("failed sign-in", "user", u.ID)
		return nil, invalid
	}
	return s.openSession(ctx, u, meta)
}

func (s *Service) openSession(ctx context.Context, u *model.User, meta RequestMeta) (*Result, error) {
	ip, ua := meta.pointers()
	sess, err := s.store.CreateSession(ctx, u.ID, ip, ua, SessionTTL)
	if err != nil {
		return nil, apperr.Internal("failed to create session", err)
	}
	return &Result{Session: sess, User: u}, nil
}

// SignOut deletes the session behind token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return apperr.Internal("failed to sign out", err)
	}
	return nil
}

// ForgetPassword emails a reset link when the address belongs to a user. The
// outcome is the same for unknown addresses.
func (s *Service) ForgetPassword(ctx context.Context, email, redirectTo string) error {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return apperr.Internal("failed to look up user", err)
	}
	if u == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return apperr.Internal("failed to create reset token", err)
	}
	if _, err := s.store.CreateVerification(ctx, resetPrefix+token, u.ID, ResetTokenTTL); err != nil {
		return apperr.Internal("failed to create reset token", err)
	}

	link := s.cfg.BaseURL + "/reset-password/" + token
	if redirectTo != "" {
		link += "?callbackURL=" + url.QueryEscape(redirectTo)
	}
	msg := notify.Message{
		ToEmail: u.Email,
		ToName:  u.Name,
		Subject: appI18n.T(ctx, "EmailResetSubject"),
		HTML:    appI18n.Td(ctx, "EmailResetBody", map[string]any{"Name": u.Name, "URL": link}),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		slog.Warn("password reset email failed", "user", u.ID, "error", err)
	}
	return nil
}

// ResetPassword replaces the password behind a reset token and signs the user out
// everywhere. The token is only consumed when the whole reset succeeds.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return apperr.BadRequest("invalid or expired token").WithMessageID("ErrInvalidToken")
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return apperr.Internal("failed to reset password", err)
	}
	v, err := s.store.ResetPassword(ctx, resetPrefix+token, hash)
	if err != nil {
		return apperr.Internal("failed to reset password", err)
	}
	if v == nil {
		return apperr.BadRequest("invalid or expired token").WithMessageID("ErrInvalidToken")
	}
	slog.Info("password reset", "user", v.Value)
	return nil
}

// SendVerificationEmail sends a verification link to an unverified user. Unknown and
// already verified addresses are a no-op. Delivery errors are returned to the caller.
func (s *Service) SendVerificationEmail(ctx context.Context, email, callbackURL string) error {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if u == nil || u.EmailVerified {
		return nil
	}
	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	if _, err := s.store.CreateVerification(ctx, verifyPrefix+token, u.Email, VerifyTokenTTL); err != nil {
		return fmt.Errorf("store verification: %w", err)
	}

	link := s.cfg.BaseURL + "/api/auth/verify-email?token=" + token
	if callbackURL != "" {
		link += "&callbackURL=" + url.QueryEscape(callbackURL)
	}
	return s.mailer.Send(ctx, notify.Message{
		ToEmail: u.Email,
		ToName:  u.Name,
		Subject: appI18n.T(ctx, "EmailVerifySubject"),
		HTML:    appI18n.Td(ctx, "EmailVerifyBody", map[string]any{"Name": u.Name, "URL": link}),
	})
}

// VerifyEmail consumes a verification token and marks the address verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperr.BadRequest("invalid or expired token").WithMessageID("ErrInvalidToken")
	}
	v, err := s.store.ConsumeVerification(ctx, verifyPrefix+token)
	if err != nil {
		return nil, apperr.Internal("failed to check verification token", err)
	}
	if v == nil {
		return nil, apperr.BadRequest("invalid or expired token").WithMessageID("ErrInvalidToken")
	}
	if err := s.store.MarkEmailVerified(ctx, v.Value); err != nil {
		return nil, apperr.Internal("failed to verify email", err)
	}
	u, err := s.store.GetUserByEmail(ctx, v.Value)
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user not found")
	}
	slog.Info("email verified", "user", u.ID)
	return u, nil
}

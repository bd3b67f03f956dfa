package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/model"
)

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (s *Service) GitHubEnabled() bool {
	return s.oauth != nil
}

// GitHubAuthURL starts the OAuth flow. The state is stored as a short-lived
// verification and checked on callback.
func (s *Service) GitHubAuthURL(ctx context.Context) (string, error) {
	if s.oauth == nil {
		return "", apperr.NotFound("GitHub sign-in is not configured")
	}
	state, err := randomToken()
	if err != nil {
		return "", apperr.Internal("failed to start GitHub sign-in", err)
	}
	if _, err := s.store.CreateVerification(ctx, statePrefix+state, model.ProviderGitHub, OAuthStateTTL); err != nil {
		return "", apperr.Internal("failed to start GitHub sign-in", err)
	}
	return s.oauth.AuthCodeURL(state), nil
}

// GitHubCallback completes the OAuth flow: it exchanges the code, links or creates
// the user and opens a session.
func (s *Service) GitHubCallback(ctx context.Context, state, code string, meta RequestMeta) (*Result, error) {
	if s.oauth == nil {
		return nil, apperr.NotFound("GitHub sign-in is not configured")
	}
	if state == "" || code == "" {
		return nil, apperr.BadRequest("missing state or code").WithMessageID("ErrInvalidToken")
	}
	v, err := s.store.ConsumeVerification(ctx, statePrefix+state)
	if err != nil {
		return nil, apperr.Internal("failed to check OAuth state", err)
	}
	if v == nil {
		return nil, apperr.BadRequest("invalid or expired OAuth state").WithMessageID("ErrInvalidToken")
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		slog.Warn("GitHub code exchange failed", "error", err)
		return nil, apperr.Unauthorized("GitHub sign-in failed")
	}
	client := s.oauth.Client(ctx, tok)
	gu, err := s.fetchGitHubUser(ctx, client)
	if err != nil {
		return nil, apperr.Internal("failed to load GitHub profile", err)
	}

	accountID := strconv.FormatInt(gu.ID, 10)
	acc, err := s.store.GetAccountByProvider(ctx, model.ProviderGitHub, accountID)
	if err != nil {
		return nil, apperr.Internal("failed to look up account", err)
	}

	access := tok.AccessToken
	var refresh *string
	if tok.RefreshToken != "" {
		refresh = &tok.RefreshToken
	}
	scope, _ := tok.Extra("scope").(string)
	var expiry = &tok.Expiry
	if tok.Expiry.IsZero() {
		expiry = nil
	}

	var u *model.User
	switch {
	case acc != nil:
		acc.AccessToken, acc.RefreshToken, acc.AccessTokenExpiresAt = &access, refresh, expiry
		if scope != "" {
			acc.Scope = &scope
		}
		if err := s.store.UpdateAccountTokens(ctx, acc); err != nil {
			return nil, apperr.Internal("failed to update account", err)
		}
		u, err = s.store.GetUserByID(ctx, acc.UserID)
		if err != nil || u == nil {
			return nil, apperr.Internal("failed to load user", err)
		}
	default:
		u, err = s.linkGitHubUser(ctx, gu, &model.Account{
			AccountID:            accountID,
			ProviderID:           model.ProviderGitHub,
			AccessToken:          &access,
			RefreshToken:         refresh,
			AccessTokenExpiresAt: expiry,
			Scope:                optionalString(scope),
		})
		if err != nil {
			return nil, err
		}
	}

	slog.Info("GitHub sign-in", "user", u.ID, "login", gu.Login)
	return s.openSession(ctx, u, meta)
}

// linkGitHubUser attaches a GitHub account to the user with the same verified email
// or creates a new verified user. An unverified local address is never linked.
func (s *Service) linkGitHubUser(ctx context.Context, gu *githubUser, acc *model.Account) (*model.User, error) {
	email := strings.ToLower(gu.Email)
	if email == "" {
		return nil, apperr.BadRequest("GitHub account has no verified email")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal("failed to look up user", err)
	}
	if u != nil {
		if !u.EmailVerified {
			slog.Warn("refused to link GitHub account to unverified email", "user", u.ID, "login", gu.Login)
			return nil, apperr.Conflict("email registered but not verified").WithMessageID("ErrEmailNotVerified")
		}
		acc.UserID = u.ID
		if err := s.store.CreateAccount(ctx, acc); err != nil {
			return nil, apperr.Internal("failed to link account", err)
		}
		return u, nil
	}

	name := gu.Name
	if name == "" {
		name = gu.Login
	}
	u = &model.User{Name: name, Email: email, EmailVerified: true, Image: optionalString(gu.AvatarURL)}
	if err := s.store.CreateUserWithAccount(ctx, u, acc); err != nil {
		return nil, apperr.Internal("failed to create user", err)
	}
	return u, nil
}

func (s *Service) fetchGitHubUser(ctx context.Context, client *http.Client) (*githubUser, error) {
	var gu githubUser
	if err := getJSON(ctx, client, s.githubAPI+"/user", &gu); err != nil {
		return nil, err
	}
	if gu.ID == 0 {
		return nil, errors.New("GitHub returned a user without id")
	}
	if gu.Email != "" {
		return &gu, nil
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, s.githubAPI+"/user/emails", &emails); err != nil {
		return nil, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			gu.Email = e.Email
			break
		}
	}
	return &gu, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/satprep/internal/model"
)

const userColumns = `id, name, email, email_verified, username, display_username, image, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.Username, &u.DisplayUsername, &u.Image, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user, assigning an id and timestamps when missing.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.createUser(ctx, s.db, u)
}

func (s *Store) createUser(ctx context.Context, q querier, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.exec(ctx, q,
		`INSERT INTO web_user (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.EmailVerified, u.Username, u.DisplayUsername, u.Image, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return err
	}
	slog.Info("created user", "id", u.ID, "email", u.Email)
	return nil
}

// CreateUserWithAccount inserts a user and its first account in one transaction.
func (s *Store) CreateUserWithAccount(ctx context.Context, u *model.User, a *model.Account) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.createUser(ctx, tx, u); err != nil {
			return err
		}
		a.UserID = u.ID
		return s.createAccount(ctx, tx, a)
	})
}

// GetUserByID returns a user by id, or nil if not found.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM web_user WHERE id = ?`, id))
}

// GetUserByEmail returns a user by email, or nil if not found.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM web_user WHERE email = ?`, email))
}

// GetUserByUsername returns a user by normalized username, or nil if not found.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM web_user WHERE username = ?`, username))
}

// UpdateUser saves the mutable profile fields of a user.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	_, err := s.exec(ctx, s.db,
		`UPDATE web_user SET name = ?, username = ?, display_username = ?, image = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.Username, u.DisplayUsername, u.Image, u.UpdatedAt, u.ID,
	)
	return err
}

// MarkEmailVerified sets the verified flag on the user with the given email.
func (s *Store) MarkEmailVerified(ctx context.Context, email string) error {
	_, err := s.exec(ctx, s.db,
		`UPDATE web_user SET email_verified = ?, updated_at = ? WHERE email = ?`,
		true, time.Now().UTC(), email,
	)
	return err
}

// DeleteUser removes a user; sessions, accounts, tests and attempts cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM web_user WHERE id = ?`, id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM web_user`).Scan(&count)
	return count, err
}

const accountColumns = `id, account_id, provider_id, user_id, access_token, refresh_token, id_token,
	access_token_expires_at, refresh_token_expires_at, scope, password, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.AccountID, &a.ProviderID, &a.UserID, &a.AccessToken, &a.RefreshToken, &a.IDToken,
		&a.AccessTokenExpiresAt, &a.RefreshTokenExpiresAt, &a.Scope, &a.Password, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount links a credential to an existing user.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.createAccount(ctx, s.db, a)
}

func (s *Store) createAccount(ctx context.Context, q querier, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.exec(ctx, q,
		`INSERT INTO web_account (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, a.ProviderID, a.UserID, a.AccessToken, a.RefreshToken, a.IDToken,
		a.AccessTokenExpiresAt, a.RefreshTokenExpiresAt, a.Scope, a.Password, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetAccount returns the user's account for a provider, or nil if not linked.
func (s *Store) GetAccount(ctx context.Context, userID, providerID string) (*model.Account, error) {
	return scanAccount(s.queryRow(ctx, s.db,
		`SELECT `+accountColumns+` FROM web_account WHERE user_id = ? AND provider_id = ?`, userID, providerID))
}

// GetAccountByProvider looks an account up by the provider's own account id.
func (s *Store) GetAccountByProvider(ctx context.Context, providerID, accountID string) (*model.Account, error) {
	return scanAccount(s.queryRow(ctx, s.db,
		`SELECT `+accountColumns+` FROM web_account WHERE provider_id = ? AND account_id = ?`, providerID, accountID))
}

// UpdateAccountPassword replaces the password hash of the user's credential account.
func (s *Store) UpdateAccountPassword(ctx context.Context, userID, passwordHash string) error {
	return s.updateAccountPassword(ctx, s.db, userID, passwordHash)
}

func (s *Store) updateAccountPassword(ctx context.Context, q querier, userID, passwordHash string) error {
	res, err := s.exec(ctx, q,
		`UPDATE web_account SET password = ?, updated_at = ? WHERE user_id = ? AND provider_id = ?`,
		passwordHash, time.Now().UTC(), userID, model.ProviderCredential,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ResetPassword consumes the verification matching identifier and sets the password
// of the user it names, creating a credential account when the user has none. All of
// the user's sessions are revoked. Nothing changes unless every step succeeds. It
// returns nil when the verification is missing or expired.
func (s *Store) ResetPassword(ctx context.Context, identifier, passwordHash string) (*model.Verification, error) {
	var v *model.Verification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = s.consumeVerification(ctx, tx, identifier)
		if err != nil || v == nil {
			return err
		}
		userID := v.Value
		err = s.updateAccountPassword(ctx, tx, userID, passwordHash)
		if errors.Is(err, sql.ErrNoRows) {
			err = s.createAccount(ctx, tx, &model.Account{
				AccountID: userID, ProviderID: model.ProviderCredential, UserID: userID, Password: &passwordHash,
			})
		}
		if err != nil {
			return err
		}
		return s.deleteUserSessions(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpdateAccountTokens stores refreshed OAuth tokens.
func (s *Store) UpdateAccountTokens(ctx context.Context, a *model.Account) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := s.exec(ctx, s.db,
		`UPDATE web_account SET access_token = ?, refresh_token = ?, access_token_expires_at = ?, scope = ?, updated_at = ?
		 WHERE id = ?`,
		a.AccessToken, a.RefreshToken, a.AccessTokenExpiresAt, a.Scope, a.UpdatedAt, a.ID,
	)
	return err
}

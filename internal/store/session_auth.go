package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/satprep/internal/model"
)

const sessionColumns = `id, expires_at, token, created_at, updated_at, ip_address, user_agent, user_id`

// CreateSession opens a new auth session for a user and returns it.
func (s *Store) CreateSession(ctx context.Context, userID string, ipAddress, userAgent *string, ttl time.Duration) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.NewString(),
		ExpiresAt: now.Add(ttl),
		Token:     token,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO web_session (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ExpiresAt, sess.Token, sess.CreatedAt, sess.UpdatedAt, sess.IPAddress, sess.UserAgent, sess.UserID,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSessionByToken returns the session for the given token, or nil if not found/expired.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.queryRow(ctx, s.db,
		`SELECT `+sessionColumns+` FROM web_session WHERE token = ?`, token,
	).Scan(&sess.ID, &sess.ExpiresAt, &sess.Token, &sess.CreatedAt, &sess.UpdatedAt, &sess.IPAddress, &sess.UserAgent, &sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// TouchSession extends a session's expiry.
func (s *Store) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := s.exec(ctx, s.db,
		`UPDATE web_session SET expires_at = ?, updated_at = ? WHERE token = ?`,
		expiresAt.UTC(), time.Now().UTC(), token,
	)
	return err
}

// DeleteSession removes a session token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM web_session WHERE token = ?`, token)
	return err
}

// DeleteUserSessions removes every session of a user.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	return s.deleteUserSessions(ctx, s.db, userID)
}

func (s *Store) deleteUserSessions(ctx context.Context, q querier, userID string) error {
	_, err := s.exec(ctx, q, `DELETE FROM web_session WHERE user_id = ?`, userID)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions and reports how many were deleted.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM web_session WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

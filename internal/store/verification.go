package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/satprep/internal/model"
)

// CreateVerification stores a short-lived identifier/value pair. An empty value gets a
// random token.
func (s *Store) CreateVerification(ctx context.Context, identifier, value string, ttl time.Duration) (*model.Verification, error) {
	if value == "" {
		tok, err := generateToken()
		if err != nil {
			return nil, err
		}
		value = tok
	}
	now := time.Now().UTC()
	v := &model.Verification{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Value:      value,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO web_verification (id, identifier, value, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.Identifier, v.Value, v.ExpiresAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FindVerification returns the newest unexpired verification for identifier, or nil.
func (s *Store) FindVerification(ctx context.Context, identifier string) (*model.Verification, error) {
	return s.findVerification(ctx, s.db, identifier)
}

func (s *Store) findVerification(ctx context.Context, q querier, identifier string) (*model.Verification, error) {
	var v model.Verification
	var createdAt, updatedAt sql.NullTime
	err := s.queryRow(ctx, q,
		`SELECT id, identifier, value, expires_at, created_at, updated_at FROM web_verification
		 WHERE identifier = ? AND expires_at > ? ORDER BY expires_at DESC LIMIT 1`,
		identifier, time.Now().UTC(),
	).Scan(&v.ID, &v.Identifier, &v.Value, &v.ExpiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt, v.UpdatedAt = createdAt.Time, updatedAt.Time
	return &v, nil
}

// ConsumeVerification deletes and returns the verification matching identifier, or nil
// when it is missing or expired.
func (s *Store) ConsumeVerification(ctx context.Context, identifier string) (*model.Verification, error) {
	return s.consumeVerification(ctx, s.db, identifier)
}

func (s *Store) consumeVerification(ctx context.Context, q querier, identifier string) (*model.Verification, error) {
	v, err := s.findVerification(ctx, q, identifier)
	if err != nil || v == nil {
		return nil, err
	}
	res, err := s.exec(ctx, q, `DELETE FROM web_verification WHERE id = ?`, v.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Consumed concurrently.
		return nil, nil
	}
	return v, nil
}

// CleanupExpiredVerifications deletes expired verification rows.
func (s *Store) CleanupExpiredVerifications(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM web_verification WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/satprep/internal/model"
)

const attemptColumns = `id, user_id, practice_test_id, status, results, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*model.TestAttempt, error) {
	var a model.TestAttempt
	var results sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.UserID, &a.PracticeTestID, &a.Status, &results, &a.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Results = []model.ModuleAttempt{}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &a.Results); err != nil {
			return nil, fmt.Errorf("decode results of attempt %s: %w", a.ID, err)
		}
	}
	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}
	return &a, nil
}

// CreateTestAttempt inserts a pending attempt with empty results. The practice test id
// is not checked beforehand; a missing test surfaces as ErrForeignKey.
func (s *Store) CreateTestAttempt(ctx context.Context, userID, practiceTestID string) (*model.TestAttempt, error) {
	a := &model.TestAttempt{
		ID:             uuid.NewString(),
		UserID:         userID,
		PracticeTestID: practiceTestID,
		Status:         model.AttemptPending,
		Results:        []model.ModuleAttempt{},
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO web_test_attempt (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.PracticeTestID, a.Status, "[]", a.CreatedAt, nil,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListTestAttemptsByUser returns every attempt owned by the user.
func (s *Store) ListTestAttemptsByUser(ctx context.Context, userID string) ([]model.TestAttempt, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+attemptColumns+` FROM web_test_attempt WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts := []model.TestAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// GetTestAttempt returns an attempt by id, or nil if not found.
func (s *Store) GetTestAttempt(ctx context.Context, id string) (*model.TestAttempt, error) {
	a, err := scanAttempt(s.queryRow(ctx, s.db,
		`SELECT `+attemptColumns+` FROM web_test_attempt WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// UpdateTestAttempt replaces the status and results of an attempt and touches updated_at.
func (s *Store) UpdateTestAttempt(ctx context.Context, id string, status model.AttemptStatus, results []model.ModuleAttempt) (*model.TestAttempt, error) {
	if results == nil {
		results = []model.ModuleAttempt{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	res, err := s.exec(ctx, s.db,
		`UPDATE web_test_attempt SET status = ?, results = ?, updated_at = ? WHERE id = ?`,
		status, string(b), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, nil
	}
	return s.GetTestAttempt(ctx, id)
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/satprep/internal/model"
)

// ExportPracticeTest builds an export document for one practice test.
// It returns nil when the test does not exist.
func (s *Store) ExportPracticeTest(ctx context.Context, id string) (*model.TestExport, error) {
	tree, err := s.GetPracticeTestTree(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load practice test %s: %w", id, err)
	}
	if tree == nil {
		return nil, nil
	}
	return &model.TestExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Test:       *tree,
	}, nil
}

// ExportUserPracticeTests exports every test owned by a user.
func (s *Store) ExportUserPracticeTests(ctx context.Context, userID string) ([]model.TestExport, error) {
	tests, err := s.ListPracticeTestsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list practice tests: %w", err)
	}

	var exports []model.TestExport
	for _, t := range tests {
		exp, err := s.ExportPracticeTest(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			exports = append(exports, *exp)
		}
	}
	return exports, nil
}

package model

import (
	"context"
	"time"
)

// PracticeTestType is the category of a generated practice test.
type PracticeTestType string

const (
	PracticeTestMath   PracticeTestType = "math"
	PracticeTestVerbal PracticeTestType = "verbal"
	PracticeTestFull   PracticeTestType = "full"
)

// PracticeTestTypes lists every accepted test type in display order.
var PracticeTestTypes = []PracticeTestType{PracticeTestMath, PracticeTestVerbal, PracticeTestFull}

// Valid reports whether t is one of the enumerated test types.
func (t PracticeTestType) Valid() bool {
	switch t {
	case PracticeTestMath, PracticeTestVerbal, PracticeTestFull:
		return true
	}
	return false
}

// SectionType is the subject of a section.
type SectionType string

const (
	SectionMath   SectionType = "math"
	SectionVerbal SectionType = "verbal"
)

// Valid reports whether s is a known section type.
func (s SectionType) Valid() bool {
	return s == SectionMath || s == SectionVerbal
}

// QuestionType distinguishes multiple-choice from free-form numeric items.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionGridIn         QuestionType = "grid_in"
)

// Valid reports whether q is a known question type.
func (q QuestionType) Valid() bool {
	return q == QuestionMultipleChoice || q == QuestionGridIn
}

// AttemptStatus represents the progress of a test attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptActive    AttemptStatus = "active"
	AttemptPaused    AttemptStatus = "paused"
	AttemptCompleted AttemptStatus = "completed"
)

// Valid reports whether s is a known attempt status.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptPending, AttemptActive, AttemptPaused, AttemptCompleted:
		return true
	}
	return false
}

// Account provider identifiers.
const (
	ProviderCredential = "credential"
	ProviderGitHub     = "github"
)

// User is an identity owned by the auth subsystem.
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	EmailVerified   bool      `json:"emailVerified"`
	Username        *string   `json:"username,omitempty"`
	DisplayUsername *string   `json:"displayUsername,omitempty"`
	Image           *string   `json:"image,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Session is an authentication session keyed by an opaque token.
type Session struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionWithUser is what the session provider hands to request handlers.
type SessionWithUser struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// Account links a user to a credential: a password hash or an OAuth identity.
type Account struct {
	ID                    string
	AccountID             string
	ProviderID            string
	UserID                string
	AccessToken           *string
	RefreshToken          *string
	IDToken               *string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	Scope                 *string
	Password              *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Verification is a short-lived identifier/value pair (email verification, password reset).
type Verification struct {
	ID         string
	Identifier string
	Value      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PracticeTest is a generated exam instance. A nil UserID marks a shared test.
type PracticeTest struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Type      PracticeTestType `json:"type"`
	UserID    *string          `json:"userId"`
	IsPublic  bool             `json:"isPublic"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt *time.Time       `json:"updatedAt"`
}

// Section is a timed block of one subject within a practice test.
type Section struct {
	ID             string      `json:"id"`
	PracticeTestID string      `json:"practiceTestId"`
	Position       int         `json:"position"`
	Type           SectionType `json:"type"`
	Duration       int         `json:"duration"`
}

// Module groups related questions inside a section.
type Module struct {
	ID        string `json:"id"`
	SectionID string `json:"sectionId"`
	Position  int    `json:"position"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
}

// Question is a single gradable item. Options is nil for grid-in questions.
type Question struct {
	ID            string       `json:"id"`
	ModuleID      string       `json:"moduleId"`
	Position      int          `json:"position"`
	QuestionText  string       `json:"questionText"`
	PassageText   *string      `json:"passageText,omitempty"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   *string      `json:"explanation,omitempty"`
	Domain        *string      `json:"domain,omitempty"`
	QuestionType  QuestionType `json:"type"`
}

// AnswerAttempt is one answered (or skipped) question inside a module attempt.
type AnswerAttempt struct {
	QuestionID       string  `json:"questionId"`
	UserAnswer       *string `json:"userAnswer"`
	IsCorrect        *bool   `json:"isCorrect,omitempty"`
	FlaggedForReview *bool   `json:"flaggedForReview,omitempty"`
}

// ModuleAttempt records a user's pass through one module.
type ModuleAttempt struct {
	ModuleID    string          `json:"moduleId"`
	StartedAt   string          `json:"startedAt"`
	CompletedAt string          `json:"completedAt"`
	Answers     []AnswerAttempt `json:"answers"`
	Score       *float64        `json:"score,omitempty"`
}

// TestAttempt is a user's run through a practice test.
type TestAttempt struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	PracticeTestID string          `json:"practiceTestId"`
	Status         AttemptStatus   `json:"status"`
	Results        []ModuleAttempt `json:"results"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      *time.Time      `json:"updatedAt"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

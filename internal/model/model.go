package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStandard
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Option is one of the four answer slots of a question.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
	OptionD Option = "D"
)

// ParseOption accepts a single letter in either case.
func ParseOption(raw string) (Option, bool) {
	switch opt := Option(strings.ToUpper(strings.TrimSpace(raw))); opt {
	case OptionA, OptionB, OptionC, OptionD:
		return opt, true
	}
	return "", false
}

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      Role      `json:"role"`
	Suspended bool      `json:"suspended"`
	CreatedAt time.Time `json:"createdAt"`
}

type Category struct {
	ID                  uuid.UUID       `json:"id"`
	NameEN              string          `json:"nameEn"`
	NameBG              string          `json:"nameBg"`
	Price               decimal.Decimal `json:"price"`
	DurationDays        int             `json:"durationDays"`
	ExamDurationMinutes int             `json:"examDurationMinutes"`
	QuestionCount       int             `json:"questionCount"`
	Active              bool            `json:"active"`
}

type Package struct {
	ID           uuid.UUID       `json:"id"`
	NameEN       string          `json:"nameEn"`
	NameBG       string          `json:"nameBg"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"durationDays"`
	Active       bool            `json:"active"`
	CategoryIDs  []uuid.UUID     `json:"categoryIds"`
}

// AccessRequest targets exactly one of CategoryID or PackageID.
type AccessRequest struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"userId"`
	CategoryID  *uuid.UUID    `json:"categoryId,omitempty"`
	PackageID   *uuid.UUID    `json:"packageId,omitempty"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requestedAt"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty"`
	ProcessedBy *uuid.UUID    `json:"processedBy,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

// Entitlement grants a user access to a category. A nil ExpiresAt never expires.
type Entitlement struct {
	UserID     uuid.UUID  `json:"userId"`
	CategoryID uuid.UUID  `json:"categoryId"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	GrantedAt  time.Time  `json:"grantedAt"`
	GrantedBy  *uuid.UUID `json:"grantedBy,omitempty"`
}

// ActiveAt reports whether the entitlement allows access at now.
// Access ends at ExpiresAt itself.
func (e Entitlement) ActiveAt(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

type Question struct {
	ID            uuid.UUID `json:"id"`
	CategoryID    uuid.UUID `json:"categoryId"`
	OriginalIndex int       `json:"originalIndex"`
	Text          string    `json:"text"`
	Options       [4]string `json:"options"`
	Correct       Option    `json:"-"`
	ImageURL      *string   `json:"imageUrl,omitempty"`
}

type ExamSession struct {
	ID          uuid.UUID            `json:"id"`
	UserID      uuid.UUID            `json:"userId"`
	CategoryID  uuid.UUID            `json:"categoryId"`
	QuestionIDs []uuid.UUID          `json:"questionIds"`
	Answers     map[uuid.UUID]Option `json:"answers"`
	StartedAt   time.Time            `json:"startedAt"`
	Deadline    *time.Time           `json:"deadline,omitempty"`
	EndedAt     *time.Time           `json:"endedAt,omitempty"`
	Completed   bool                 `json:"completed"`
	Score       int                  `json:"score"`
	Percentage  float64              `json:"percentage"`
	Grade       Grade                `json:"grade,omitempty"`
}

type SessionAnswer struct {
	SessionID  uuid.UUID  `json:"sessionId"`
	QuestionID uuid.UUID  `json:"questionId"`
	Position   int        `json:"position"`
	Selected   *Option    `json:"selected,omitempty"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	IsCorrect  *bool      `json:"isCorrect,omitempty"`
}

type AuditEntry struct {
	ActorID    *uuid.UUID     `json:"actorId,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}

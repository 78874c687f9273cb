package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/apperr"
	"examportal/internal/model"
)

const CodeAccountSuspended = "account_suspended"

type Identity struct {
	UserID uuid.UUID
	Role   model.Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// UserLookup resolves the current role and suspension state of a user.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
}

// Authenticator turns a bearer credential into an Identity. The role comes
// from the user record, not from the token, so demotions apply immediately.
type Authenticator struct {
	secret string
	issuer string
	users  UserLookup
}

func NewAuthenticator(secret, issuer string, users UserLookup) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer, users: users}
}

func (a *Authenticator) Identify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.Unauthenticated(apperr.CodeMissingToken)
	}
	claims, err := ParseToken(a.secret, a.issuer, token)
	if err != nil {
		return Identity{}, apperr.Unauthenticated(apperr.CodeInvalidToken)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, apperr.Unauthenticated(apperr.CodeInvalidToken)
	}
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, apperr.Unauthenticated(apperr.CodeInvalidToken)
		}
		return Identity{}, apperr.Persistence("get user", err)
	}
	if user.Suspended {
		return Identity{}, apperr.Unauthenticated(CodeAccountSuspended)
	}
	if !user.Role.Valid() {
		return Identity{}, apperr.Unauthenticated(apperr.CodeInvalidToken)
	}
	return Identity{UserID: user.ID, Role: user.Role}, nil
}

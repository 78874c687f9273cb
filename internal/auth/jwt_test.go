package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/apperr"
	"examportal/internal/db"
	"examportal/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "user-1", Role: "STANDARD"})
	require.NoError(t, err)

	claims, err := ParseToken("secret", "issuer", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)

	_, err = ParseToken("other-secret", "issuer", token)
	assert.Error(t, err)
	_, err = ParseToken("secret", "other-issuer", token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "user-1"})
	require.NoError(t, err)
	_, err = ParseToken("secret", "issuer", token)
	assert.Error(t, err)
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	active := model.User{ID: uuid.New(), Email: "a@example.com", Role: model.RoleAdmin}
	suspended := model.User{ID: uuid.New(), Email: "s@example.com", Role: model.RoleStandard, Suspended: true}
	require.NoError(t, store.CreateUser(ctx, active))
	require.NoError(t, store.CreateUser(ctx, suspended))
	authn := NewAuthenticator("secret", "issuer", store)

	mint := func(userID string) string {
		token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: userID, Role: "STANDARD"})
		require.NoError(t, err)
		return token
	}

	identity, err := authn.Identify(ctx, mint(active.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, active.ID, identity.UserID)
	assert.True(t, identity.IsAdmin(), "role is read from the user record")

	_, err = authn.Identify(ctx, mint(suspended.ID.String()))
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
	assert.Equal(t, CodeAccountSuspended, apperr.CodeOf(err))

	_, err = authn.Identify(ctx, mint(uuid.NewString()))
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))

	_, err = authn.Identify(ctx, "")
	assert.Equal(t, apperr.CodeMissingToken, apperr.CodeOf(err))

	_, err = authn.Identify(ctx, "garbage")
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))
}

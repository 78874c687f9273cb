package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/auth"
)

func TestTokenCommandMintsParsableToken(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "examportal")
	t.Setenv("LOG_FORMAT", "text")

	userID := uuid.New()
	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{userID.String(), "--role", "ADMIN"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.ParseToken("cli-secret", "examportal", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, "ADMIN", claims.Role)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	t.Setenv("STORAGE", "memory")
	cmd := newTokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{uuid.NewString(), "--role", "ROOT"})
	assert.Error(t, cmd.Execute())
}

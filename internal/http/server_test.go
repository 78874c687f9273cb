package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/apperr"
	"examportal/internal/audit"
	"examportal/internal/auth"
	"examportal/internal/db"
	"examportal/internal/exams"
	"examportal/internal/metrics"
	"examportal/internal/model"
	"examportal/internal/requests"
	"examportal/internal/settings"
	"examportal/internal/users"
)

const (
	testSecret = "test-secret"
	testIssuer = "examportal"
)

type testEnv struct {
	store    *db.MemoryStore
	handler  http.Handler
	admin    model.User
	learner  model.User
	category model.Category
}

func newTestEnv(t *testing.T, poolSize int) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	env := &testEnv{
		store:   store,
		admin:   model.User{ID: uuid.New(), Email: "admin@example.com", Role: model.RoleAdmin},
		learner: model.User{ID: uuid.New(), Email: "learner@example.com", Role: model.RoleStandard},
		category: model.Category{
			ID:                  uuid.New(),
			NameEN:              "Navigation",
			DurationDays:        180,
			ExamDurationMinutes: 30,
			Active:              true,
		},
	}
	require.NoError(t, store.CreateUser(ctx, env.admin))
	require.NoError(t, store.CreateUser(ctx, env.learner))
	require.NoError(t, store.CreateCategory(ctx, env.category))
	options := []model.Option{model.OptionA, model.OptionB, model.OptionC, model.OptionD}
	for i := 0; i < poolSize; i++ {
		require.NoError(t, store.CreateQuestion(ctx, model.Question{
			ID:            uuid.New(),
			CategoryID:    env.category.ID,
			OriginalIndex: i,
			Text:          fmt.Sprintf("Question %d", i),
			Options:       [4]string{"a", "b", "c", "d"},
			Correct:       options[i%4],
		}))
	}
	_, err := store.RecountCategoryQuestions(ctx, env.category.ID)
	require.NoError(t, err)

	m := metrics.Noop()
	recorder := audit.NewRecorder(store, nil)
	server := NewServer(Deps{
		Store:         store,
		Authenticator: auth.NewAuthenticator(testSecret, testIssuer, store),
		Requests:      requests.NewService(store, recorder, m, nil, 365),
		Exams:         exams.NewService(store, exams.Config{QuestionCount: 8, Grace: time.Minute}, m, nil),
		Users:         users.NewService(store, recorder, m, 25),
		Settings:      settings.NewReader(nil, "examportal:settings"),
		Metrics:       m,
	})
	env.handler = server.Router()
	return env
}

func (e *testEnv) token(t *testing.T, user model.User) string {
	t.Helper()
	token, err := auth.NewAccessToken(testSecret, testIssuer, time.Hour, auth.Claims{
		UserID: user.ID.String(),
		Role:   string(user.Role),
	})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeBody(t, rec, &body)
	return body.Error
}

func TestHealthAndSettings(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/settings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var values settings.Settings
	decodeBody(t, rec, &values)
	assert.Empty(t, values.PaymentLink)
}

func TestAuthenticationFailures(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeMissingToken, errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeInvalidToken, errorCode(t, rec))

	stranger := model.User{ID: uuid.New(), Role: model.RoleStandard}
	rec = env.do(t, http.MethodGet, "/me", env.token(t, stranger), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(t, http.MethodGet, "/admin/access-requests", env.token(t, env.learner), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeForbidden, errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/admin/access-requests", env.token(t, env.admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleComesFromUserRecord(t *testing.T) {
	env := newTestEnv(t, 0)
	// A token claiming ADMIN does not elevate a STANDARD user.
	token, err := auth.NewAccessToken(testSecret, testIssuer, time.Hour, auth.Claims{
		UserID: env.learner.ID.String(),
		Role:   string(model.RoleAdmin),
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/admin/access-requests", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestApproveAndExamFlow(t *testing.T) {
	env := newTestEnv(t, 16)
	learnerToken := env.token(t, env.learner)
	adminToken := env.token(t, env.admin)
	categoryPath := "/categories/" + env.category.ID.String()

	rec := env.do(t, http.MethodPost, categoryPath+"/sessions", learnerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeNoAccess, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/access-requests", learnerToken, map[string]interface{}{
		"categoryIds": []string{env.category.ID.String()},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var submitted requests.SubmitResult
	decodeBody(t, rec, &submitted)
	require.Len(t, submitted.Created, 1)

	rec = env.do(t, http.MethodPost, "/access-requests", learnerToken, map[string]interface{}{
		"categoryIds": []string{env.category.ID.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &submitted)
	assert.Empty(t, submitted.Created)
	require.Len(t, submitted.Skipped, 1)
	assert.Equal(t, requests.SkipAlreadyPending, submitted.Skipped[0].Reason)

	rec = env.do(t, http.MethodPost, "/admin/access-requests/approve", adminToken, map[string]interface{}{
		"requestId": submitted.Skipped[0].ID.String(),
	})
	// Skipped carries the target id, not a request id.
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/access-requests/approve", adminToken, map[string]interface{}{
		"userId":      env.learner.ID.String(),
		"categoryIds": []string{env.category.ID.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var approved requests.ApproveResult
	decodeBody(t, rec, &approved)
	assert.Equal(t, int64(1), approved.ApprovedRequests)

	rec = env.do(t, http.MethodGet, categoryPath+"/access", learnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var access map[string]bool
	decodeBody(t, rec, &access)
	assert.True(t, access["hasAccess"])

	rec = env.do(t, http.MethodPost, categoryPath+"/sessions", learnerToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var started exams.Started
	decodeBody(t, rec, &started)
	require.Len(t, started.Questions, 8)
	assert.NotContains(t, rec.Body.String(), "correct")

	rec = env.do(t, http.MethodPost, categoryPath+"/sessions", learnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resumed exams.Started
	decodeBody(t, rec, &resumed)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, started.Session.ID, resumed.Session.ID)

	sessionPath := "/sessions/" + started.Session.ID.String()
	first := started.Questions[0].ID
	rec = env.do(t, http.MethodPut, sessionPath+"/answers/"+first.String(), learnerToken, map[string]string{"option": "z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidOption, errorCode(t, rec))

	rec = env.do(t, http.MethodPut, sessionPath+"/answers/"+uuid.NewString(), learnerToken, map[string]string{"option": "a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeQuestionNotInSession, errorCode(t, rec))

	rec = env.do(t, http.MethodPut, sessionPath+"/answers/"+first.String(), learnerToken, map[string]string{"option": "b"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, sessionPath, env.token(t, env.admin), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeNotSessionOwner, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, sessionPath+"/complete", learnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result exams.Result
	decodeBody(t, rec, &result)
	assert.Equal(t, 8, result.Total)
	assert.Len(t, result.Questions, 8)

	rec = env.do(t, http.MethodPost, sessionPath+"/complete", learnerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeSessionCompleted, errorCode(t, rec))

	rec = env.do(t, http.MethodPut, sessionPath+"/answers/"+first.String(), learnerToken, map[string]string{"option": "a"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions?categoryId="+env.category.ID.String(), learnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sessions []model.ExamSession `json:"sessions"`
	}
	decodeBody(t, rec, &listed)
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, started.Session.ID, listed.Sessions[0].ID)

	rec = env.do(t, http.MethodGet, sessionPath, learnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view exams.SessionView
	decodeBody(t, rec, &view)
	require.NotNil(t, view.Result)
	assert.Equal(t, result.Score, view.Result.Score)
}

func TestInsufficientPoolMapsToUnprocessable(t *testing.T) {
	env := newTestEnv(t, 5)
	adminToken := env.token(t, env.admin)

	rec := env.do(t, http.MethodPost, "/admin/entitlements", adminToken, map[string]interface{}{
		"userId":      env.learner.ID.String(),
		"categoryIds": []string{env.category.ID.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/categories/"+env.category.ID.String()+"/sessions", env.token(t, env.learner), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperr.CodeInsufficientQuestions, errorCode(t, rec))
}

func TestSuspensionBlocksAuthentication(t *testing.T) {
	env := newTestEnv(t, 0)
	adminToken := env.token(t, env.admin)
	learnerToken := env.token(t, env.learner)

	rec := env.do(t, http.MethodPut, "/admin/users/"+env.admin.ID.String()+"/suspension", adminToken, map[string]bool{"suspended": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeCannotSuspendSelf, errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/admin/users/"+uuid.NewString()+"/suspension", adminToken, map[string]bool{"suspended": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/admin/users/"+env.learner.ID.String()+"/suspension", adminToken, map[string]bool{"suspended": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/me", learnerToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.CodeAccountSuspended, errorCode(t, rec))

	rec = env.do(t, http.MethodPut, "/admin/users/"+env.learner.ID.String()+"/suspension", adminToken, map[string]bool{"suspended": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/me", learnerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectAndValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	adminToken := env.token(t, env.admin)

	rec := env.do(t, http.MethodPost, "/admin/access-requests/"+uuid.NewString()+"/reject", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeRequestNotFound, errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/admin/access-requests/not-a-uuid/reject", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/entitlements", adminToken, map[string]interface{}{
		"userId":      env.learner.ID.String(),
		"categoryIds": []string{"nope"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/access-requests", env.token(t, env.learner), map[string]interface{}{
		"categoryIds": []string{env.category.ID.String()},
		"unexpected":  true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions?limit=-1", env.token(t, env.learner), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}

package http

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"examportal/internal/apperr"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	categoryID, ok := pathUUID(w, r, "categoryId")
	if !ok {
		return
	}
	started, err := s.exams.Create(r.Context(), identity.UserID, categoryID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	status := http.StatusCreated
	if started.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, started)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	categoryID, ok := pathUUID(w, r, "categoryId")
	if !ok {
		return
	}
	active, err := s.exams.Active(r.Context(), identity.UserID, categoryID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, ok := pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	view, err := s.exams.Get(r.Context(), identity.UserID, sessionID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitAnswerRequest struct {
	Option string `json:"option" validate:"required"`
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, ok := pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	questionID, ok := pathUUID(w, r, "questionId")
	if !ok {
		return
	}
	var req submitAnswerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.exams.SubmitAnswer(r.Context(), identity.UserID, sessionID, questionID, req.Option); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	sessionID, ok := pathUUID(w, r, "sessionId")
	if !ok {
		return
	}
	result, err := s.exams.Complete(r.Context(), identity.UserID, sessionID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	query := r.URL.Query()

	var categoryID *uuid.UUID
	if raw := query.Get("categoryId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "invalid categoryId")
			return
		}
		categoryID = &parsed
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	sessions, err := s.exams.ListCompleted(r.Context(), identity.UserID, categoryID, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

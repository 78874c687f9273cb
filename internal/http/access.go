package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"examportal/internal/ledger"
	"examportal/internal/requests"
)

type requestAccessRequest struct {
	CategoryIDs []string `json:"categoryIds" validate:"omitempty,max=100,dive,uuid"`
	PackageIDs  []string `json:"packageIds" validate:"omitempty,max=100,dive,uuid"`
}

func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req requestAccessRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.requests.Submit(r.Context(), identity.UserID, requests.Targets{
		CategoryIDs: parseUUIDs(req.CategoryIDs),
		PackageIDs:  parseUUIDs(req.PackageIDs),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(result.Created) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHasAccess(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	categoryID, ok := pathUUID(w, r, "categoryId")
	if !ok {
		return
	}
	has, err := ledger.HasAccess(r.Context(), s.store, identity.UserID, categoryID, s.now())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasAccess": has})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	dash, err := s.users.Dashboard(r.Context(), identity.UserID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// Admin

type approveRequest struct {
	RequestID    string     `json:"requestId" validate:"omitempty,uuid"`
	UserID       string     `json:"userId" validate:"omitempty,uuid"`
	CategoryIDs  []string   `json:"categoryIds" validate:"omitempty,dive,uuid"`
	DurationDays *int       `json:"durationDays" validate:"omitempty,min=1,max=3650"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Override     bool       `json:"override"`
	Notes        string     `json:"notes" validate:"max=1000"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req approveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	in := requests.ApproveInput{
		CategoryIDs:  parseUUIDs(req.CategoryIDs),
		ExpiresAt:    req.ExpiresAt,
		DurationDays: req.DurationDays,
		Override:     req.Override,
		Notes:        req.Notes,
	}
	if req.RequestID != "" {
		id := uuid.MustParse(req.RequestID)
		in.RequestID = &id
	}
	if req.UserID != "" {
		id := uuid.MustParse(req.UserID)
		in.UserID = &id
	}
	result, err := s.requests.Approve(r.Context(), identity.UserID, in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rejectRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	requestID, ok := pathUUID(w, r, "requestId")
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.requests.Reject(r.Context(), identity.UserID, requestID, req.Notes); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.requests.ListPending(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": pending})
}

type grantRequest struct {
	UserID       string     `json:"userId" validate:"required,uuid"`
	CategoryIDs  []string   `json:"categoryIds" validate:"required,min=1,dive,uuid"`
	DurationDays *int       `json:"durationDays" validate:"omitempty,min=1,max=3650"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Override     bool       `json:"override"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req grantRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	ents, err := s.requests.Grant(r.Context(), identity.UserID, requests.GrantInput{
		UserID:       uuid.MustParse(req.UserID),
		CategoryIDs:  parseUUIDs(req.CategoryIDs),
		ExpiresAt:    req.ExpiresAt,
		DurationDays: req.DurationDays,
		Override:     req.Override,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entitlements": ents})
}

type suspensionRequest struct {
	Suspended *bool `json:"suspended" validate:"required"`
}

func (s *Server) handleSetSuspension(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	var req suspensionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.users.SetSuspended(r.Context(), identity.UserID, userID, *req.Suspended); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"suspended": *req.Suspended})
}

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rmehta/coursetalk/pkg/model"
)

// Course collaborator integration: status changes drive group activation,
// enrollment events drive membership.

type courseStatusRequest struct {
	Status string `json:"status"`
}

func (s *server) handleCourseStatus(w http.ResponseWriter, r *http.Request) {
	var req courseStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	courseID := chi.URLParam(r, "courseID")

	if strings.EqualFold(req.Status, "ACTIVE") {
		report, err := s.groups.ActivateCourseGroup(r.Context(), courseID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		// Per-user reconciliation failures ride the response instead of
		// failing the whole activation.
		writeJSON(w, http.StatusOK, report)
		return
	}

	if err := s.groups.DeactivateCourseGroup(r.Context(), courseID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enrollRequest struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

func (s *server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleStudent
	}
	if err := s.groups.EnrollUser(r.Context(), chi.URLParam(r, "courseID"), req.UserID, req.Role); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unenrollRequest struct {
	UserID string `json:"user_id"`
}

func (s *server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	var req unenrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := s.groups.UnenrollUser(r.Context(), chi.URLParam(r, "courseID"), req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCourseParticipants(w http.ResponseWriter, r *http.Request) {
	members, err := s.groups.CourseParticipants(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if members == nil {
		members = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, members)
}

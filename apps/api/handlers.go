package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/chat"
	"github.com/rmehta/coursetalk/pkg/model"
	"github.com/rmehta/coursetalk/pkg/store"
)

type loginRequest struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin issues a development token. In production the identity
// collaborator signs tokens; the subsystem only validates them.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || (req.Role != model.RoleTeacher && req.Role != model.RoleStudent) {
		http.Error(w, "user_id and role (teacher|student) are required", http.StatusBadRequest)
		return
	}
	token, err := s.tokens.Generate(req.UserID, req.Role)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	sums, err := s.chat.ListConversations(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sums == nil {
		sums = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

type createPrivateRequest struct {
	UserID string `json:"user_id"`
}

// handleCreatePrivate pairs the caller with the named user; which side is
// the teacher follows from the caller's role.
func (s *server) handleCreatePrivate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req createPrivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	teacherID, studentID := claims.UserID, req.UserID
	if claims.Role == model.RoleStudent {
		teacherID, studentID = req.UserID, claims.UserID
	}
	conv, err := s.chat.CreatePrivateConversation(r.Context(), teacherID, studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := s.chat.ListMessages(r.Context(), conversationID, claims.UserID, after, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	// Oldest to newest; clients render in this order without reordering.
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	msg, err := s.chat.SendMessage(r.Context(), conversationID, claims.UserID, claims.Role, req.Content, req.Attachments)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (s *server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := s.chat.EditMessage(r.Context(), conversationID, messageID, claims.UserID, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type markReadRequest struct {
	UpToMessageID int64 `json:"up_to_message_id,omitempty"`
}

func (s *server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req markReadRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	conversationID := chi.URLParam(r, "conversationID")

	if err := s.chat.MarkRead(r.Context(), conversationID, claims.UserID, req.UpToMessageID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type apiError struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	retryable := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrNotAParticipant), errors.Is(err, chat.ErrNotSender):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrConversationInactive):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrInvalidPairing):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
		retryable = true
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, apiError{Error: err.Error(), Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

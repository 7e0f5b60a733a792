package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmehta/coursetalk/pkg/auth"
	"github.com/rmehta/coursetalk/pkg/group"
	"github.com/rmehta/coursetalk/pkg/model"
)

// ChatService and GroupManager are the slices of the services the handlers
// use; the concrete implementations live in pkg/chat and pkg/group.
type ChatService interface {
	CreatePrivateConversation(ctx context.Context, teacherID, studentID string) (*model.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID string, senderRole model.Role, content string, attachments []model.Attachment) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string, upTo int64) error
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID, userID string, afterID int64, limit int) ([]model.Message, error)
	EditMessage(ctx context.Context, conversationID string, id int64, senderID, content string) (*model.Message, error)
}

type GroupManager interface {
	ActivateCourseGroup(ctx context.Context, courseID string) (*group.Report, error)
	DeactivateCourseGroup(ctx context.Context, courseID string) error
	EnrollUser(ctx context.Context, courseID, userID string, role model.Role) error
	UnenrollUser(ctx context.Context, courseID, userID string) error
	CourseParticipants(ctx context.Context, courseID string) ([]model.Membership, error)
}

type server struct {
	chat   ChatService
	groups GroupManager
	redis  *redis.Client
	tokens *auth.TokenManager
	log    *zap.Logger
}

func (s *server) routes(r chi.Router) {
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations/private", s.handleCreatePrivate)
		r.Get("/conversations/{conversationID}/messages", s.handleListMessages)
		r.Post("/conversations/{conversationID}/messages", s.handleSendMessage)
		r.Put("/conversations/{conversationID}/messages/{messageID}", s.handleEditMessage)
		r.Post("/conversations/{conversationID}/read", s.handleMarkRead)

		r.Get("/courses/{courseID}/participants", s.handleCourseParticipants)
		r.Post("/courses/{courseID}/status", s.handleCourseStatus)
		r.Post("/courses/{courseID}/enroll", s.handleEnroll)
		r.Post("/courses/{courseID}/unenroll", s.handleUnenroll)

		r.Get("/users/{userID}/online", s.handleOnline)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := auth.Bearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		claims, err := s.tokens.Validate(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	return claims, ok
}

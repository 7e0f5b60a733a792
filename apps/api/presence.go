package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type onlineResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// handleOnline answers online-status queries from the per-user connection
// counter the gateway maintains in Redis.
func (s *server) handleOnline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	count, err := s.redis.Get(r.Context(), "presence:conns:"+userID).Int64()
	if err != nil && err != redis.Nil {
		s.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, onlineResponse{UserID: userID, Online: count > 0})
}

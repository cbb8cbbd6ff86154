package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyjacket/internal/server/middleware"
)

// UserHandler serves the caller's account.
type UserHandler struct {
	users  UserResolver
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserResolver, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// GetUser returns the caller, creating the account on first visit.
// GET /api/user
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetOrCreate(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

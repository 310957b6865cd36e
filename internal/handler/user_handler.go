package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/nightguard/internal/middleware"
	"github.com/hitoshi/nightguard/internal/model"
)

// UserFinderInterface は設定画面が必要とする最小のユーザー検索インターフェース。
type UserFinderInterface interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	users UserFinderInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users UserFinderInterface) *UserHandler {
	return &UserHandler{users: users}
}

// Settings は設定画面用に現在のユーザー情報を返す（読み取り専用）。
// GET /settings/
func (h *UserHandler) Settings(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
		},
	})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nightguard/internal/escort"
	"github.com/hitoshi/nightguard/internal/middleware"
	"github.com/hitoshi/nightguard/internal/model"
)

// EscortServiceInterface は付き添いハンドラーが必要とするサービスインターフェース。
type EscortServiceInterface interface {
	RequestEscort(ctx context.Context, userID string, lat, lon float64, destination string) (*model.EscortSession, error)
	UpdateLocation(ctx context.Context, userID string, lat, lon float64) (bool, error)
	Panic(ctx context.Context, userID string) (*escort.PanicResult, error)
	EndRoute(ctx context.Context, userID, sessionID string) error
	EscortView(ctx context.Context, userID string) (*escort.ViewData, error)
	Home(ctx context.Context, userID string) (*model.EscortSession, error)
}

// EscortHandler は付き添いセッションのHTTPハンドラー。
type EscortHandler struct {
	service EscortServiceInterface
}

// NewEscortHandler はEscortHandlerを生成する。
func NewEscortHandler(service EscortServiceInterface) *EscortHandler {
	return &EscortHandler{service: service}
}

// requestEscortRequest は付き添い依頼リクエストのボディ。
// 欠落フィールドを検出するため座標はポインタで受ける。
type requestEscortRequest struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Destination string   `json:"destination"`
}

// updateLocationRequest は位置更新リクエストのボディ。
type updateLocationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// sessionResponse は付き添いセッションのAPIレスポンス。
type sessionResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Location    string  `json:"location"`
	Destination string  `json:"destination"`
}

func toSessionResponse(s *model.EscortSession) *sessionResponse {
	if s == nil {
		return nil
	}
	resp := &sessionResponse{
		ID:          s.ID,
		Status:      string(s.Status),
		StartTime:   s.StartTime.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Location:    s.Location,
		Destination: s.Destination,
	}
	if s.EndTime != nil {
		end := s.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.EndTime = &end
	}
	return resp
}

// RequestEscort は付き添い依頼を処理する。
// POST /request-escort/
func (h *EscortHandler) RequestEscort(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req requestEscortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, "Destination is required")
		return
	}

	session, err := h.service.RequestEscort(r.Context(), userID, *req.Lat, *req.Lon, req.Destination)
	if err != nil {
		slog.Error("failed to request escort", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":    "Escort requested successfully",
		"session_id": session.ID,
	})
}

// UpdateLocation は位置更新を処理する。
// 未完了セッションが無い場合も成功として応答する（クライアントは継続的にポーリングする）。
// POST /update_location/
func (h *EscortHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	updated, err := h.service.UpdateLocation(r.Context(), userID, *req.Lat, *req.Lon)
	if err != nil {
		slog.Error("failed to update location", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	message := "Location updated"
	if !updated {
		message = "No active session to update"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": message,
	})
}

// Panic は緊急通報を処理する。
// アラート送信失敗のみ500として表面化する。
// POST /panic/
func (h *EscortHandler) Panic(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	result, err := h.service.Panic(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrAlertDelivery) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "Error",
				"message": "Failed to send panic alert",
			})
			return
		}
		slog.Error("failed to process panic", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  string(result.Session.Status),
		"message": "Panic alert sent",
	})
}

// EndRoute は付き添いセッションを終了し、ホームへリダイレクトする。
// POST /end-route/{session_id}/
func (h *EscortHandler) EndRoute(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	if err := h.service.EndRoute(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		slog.Error("failed to end route", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	http.Redirect(w, r, "/home/", http.StatusSeeOther)
}

// EscortView は付き添い画面の表示データを返す。
// 経路とETAは描画のたびに再計算される。
// GET /escort/
func (h *EscortHandler) EscortView(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	view, err := h.service.EscortView(r.Context(), userID)
	if err != nil {
		slog.Error("failed to build escort view", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":            toSessionResponse(view.Session),
		"destination":        view.Destination,
		"destination_coords": view.Route.DestinationCoords,
		"directions_text":    view.Route.Directions,
		"eta":                view.Route.ETA,
	})
}

// Home はホーム画面用に進行中セッションを返す。
// GET /home/
func (h *EscortHandler) Home(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	session, err := h.service.Home(r.Context(), userID)
	if err != nil {
		slog.Error("failed to load home", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_session": toSessionResponse(session),
	})
}

// Package handler 提供 HTTP 端點：WebSocket 升級、健康檢查、統計與房間查詢
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/system-design/cursor-rooms/internal/room"
	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
)

// LifetimeStats 累計計數的來源
type LifetimeStats interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Options 可選的端點與資料來源
type Options struct {
	WebSocket   http.Handler // GET /ws
	Metrics     http.Handler // GET {MetricsPath}
	MetricsPath string       // 預設 /metrics
	Lifetime    LifetimeStats
	Connections func() int
}

// Handler HTTP 處理器
type Handler struct {
	manager *room.Manager
	opts    Options
	logger  *slog.Logger
}

// New 創建 HTTP 處理器
func New(manager *room.Manager, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		opts:    opts,
		logger:  logger,
	}
}

// Routes 註冊路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 升級需要原始的 ResponseWriter（Hijacker），不經過日誌包裝
	if h.opts.WebSocket != nil {
		mux.HandleFunc("GET /ws", h.recoverer(h.opts.WebSocket.ServeHTTP))
	}

	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	if h.opts.Metrics != nil {
		path := h.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, h.opts.Metrics)
	}

	return mux
}

type roomDetail struct {
	RoomID  string        `json:"room_id"`
	Members []room.Member `json:"members"`
}

// listRooms 列出所有房間代碼
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	ids := h.manager.RoomIDs()
	h.jsonResponse(w, map[string]any{
		"rooms": ids,
		"total": len(ids),
	}, http.StatusOK)
}

// getRoomDetail 房間成員快照
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	members, ok := h.manager.Snapshot(roomID)
	if !ok {
		h.errorResponse(w, apperrors.ErrRoomNotFound.WithDetails(roomID))
		return
	}

	h.jsonResponse(w, roomDetail{RoomID: roomID, Members: members}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

type statsResponse struct {
	room.Stats
	Connections *int             `json:"connections,omitempty"`
	Lifetime    map[string]int64 `json:"lifetime,omitempty"`
}

// stats 即時統計；累計計數讀取失敗時仍回傳即時部分
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Stats: h.manager.Stats()}

	if h.opts.Connections != nil {
		n := h.opts.Connections()
		resp.Connections = &n
	}

	if h.opts.Lifetime != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		lifetime, err := h.opts.Lifetime.Snapshot(ctx)
		if err != nil {
			h.logger.Warn("讀取累計統計失敗", "error", err)
		} else {
			resp.Lifetime = lifetime
		}
	}

	h.jsonResponse(w, resp, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 響應失敗", "error", err)
	}
}

// errorResponse 依錯誤碼決定 HTTP 狀態
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	h.jsonResponse(w, map[string]any{
		"code":  code,
		"error": err.Error(),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("處理請求時發生 panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.New(apperrors.ErrCodeInternal, "internal server error"))
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

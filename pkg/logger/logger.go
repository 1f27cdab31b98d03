// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// ConnIDKey 連線 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
	// RoomIDKey 房間 ID 的上下文鍵
	RoomIDKey contextKey = "room_id"
)

// Options 日誌設定
type Options struct {
	Level     string // debug / info / warn / error
	Format    string // text / json
	Output    string // stdout / stderr / 檔案路徑
	AddSource bool
}

// New 建立日誌記錄器
//
// 回傳的 io.Closer 在輸出為檔案時負責關閉檔案，其餘情況為 no-op。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		output io.Writer
		closer io.Closer = nopCloser{}
	)

	switch opts.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		// #nosec G304 - 路徑來自設定檔
		file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		output = file
		closer = file
	}

	return NewWithWriter(output, opts), closer, nil
}

// NewWithWriter 以指定的 writer 建立日誌記錄器（測試用）
func NewWithWriter(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// Discard 丟棄所有輸出的日誌記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok && connID != "" {
		r.AddAttrs(slog.String("conn_id", connID))
	}

	if roomID, ok := ctx.Value(RoomIDKey).(string); ok && roomID != "" {
		r.AddAttrs(slog.String("room_id", roomID))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持 contextHandler 包裝
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保持 contextHandler 包裝
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithConnID 添加連線 ID 到上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithRoomID 添加房間 ID 到上下文
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

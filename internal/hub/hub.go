// Package hub 管理 WebSocket 連線與房間群組
//
// Hub 模式：
//   - 集中管理所有連線（connID -> Connection）
//   - 房間群組（roomID -> connID 集合）只用於廣播，權威狀態在 room.Manager
//   - 每個連線一個 readPump、一個 writePump
//   - 發送是非阻塞的：緩衝區滿時丟棄，慢連線不會拖累其他連線
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/cursor-rooms/internal/broadcast"
	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

var (
	// ErrConnectionNotFound 連線不存在或已關閉
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrSendBufferFull 發送緩衝區已滿，訊框被丟棄
	ErrSendBufferFull = errors.New("send buffer full")
)

var _ broadcast.Transport = (*Hub)(nil)

// Dispatcher 接收連線生命週期與客戶端事件
type Dispatcher interface {
	Connect(ctx context.Context, conn room.ConnID) error
	Dispatch(ctx context.Context, conn room.ConnID, env protocol.Envelope) error
	Disconnect(conn room.ConnID) error
}

// Config 連線參數
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int   // 每個連線的發送緩衝（訊框數）
	MaxMessageSize  int64 // 單一訊框上限（位元組）
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration // 必須小於 PongWait
	AllowedOrigins  []string      // 空值表示不檢查來源
}

// DefaultConfig 預設連線參數
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MaxMessageSize:  4096,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
	}
}

// Hub WebSocket 連線中心
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	conns    map[room.ConnID]*Connection
	groups   map[string]map[room.ConnID]struct{}
	stopping bool

	wg sync.WaitGroup
}

// Connection 單一 WebSocket 連線
type Connection struct {
	ID   room.ConnID
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New 創建 Hub
func New(cfg Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	h := &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[room.ConnID]*Connection),
		groups: make(map[string]map[room.ConnID]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeWS 回傳 WebSocket 升級端點，連線事件交給 d 處理
func (h *Hub) ServeWS(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		stopping := h.stopping
		h.mu.RUnlock()
		if stopping {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade 已經回覆 HTTP 錯誤
			h.logger.Warn("WebSocket 升級失敗", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		c := &Connection{
			ID:     room.ConnID(uuid.NewString()),
			ws:     ws,
			send:   make(chan []byte, h.cfg.SendBuffer),
			hub:    h,
			ctx:    ctx,
			cancel: cancel,
		}

		if !h.register(c) {
			cancel()
			_ = ws.Close()
			return
		}

		if err := d.Connect(ctx, c.ID); err != nil {
			h.logger.Warn("連線被拒絕", "conn_id", c.ID, "error", err)
			h.unregister(c)
			_ = ws.Close()
			h.wg.Add(-2)
			return
		}

		go c.writePump()
		go c.readPump(d)

		h.logger.Info("WebSocket 連接建立", "conn_id", c.ID, "remote_addr", r.RemoteAddr)
	}
}

// register 註冊連線並預留讀寫兩個 goroutine 的計數
func (h *Hub) register(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return false
	}
	h.conns[c.ID] = c
	h.wg.Add(2)
	return true
}

// unregister 移除連線、退出所有群組並關閉發送通道
//
// 回傳 false 表示已經移除過。
func (h *Hub) unregister(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if actual, ok := h.conns[c.ID]; !ok || actual != c {
		return false
	}
	delete(h.conns, c.ID)

	for roomID, members := range h.groups {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.groups, roomID)
		}
	}

	c.closeOnce.Do(func() {
		close(c.send)
	})
	c.cancel()
	return true
}

// Send 實現 broadcast.Transport：非阻塞投遞
func (h *Hub) Send(conn room.ConnID, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[conn]
	if !ok {
		return ErrConnectionNotFound
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Attach 實現 broadcast.Transport；已關閉的連線不會被加入
func (h *Hub) Attach(conn room.ConnID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn]; !ok {
		return
	}
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[room.ConnID]struct{})
		h.groups[roomID] = members
	}
	members[conn] = struct{}{}
}

// Detach 實現 broadcast.Transport
func (h *Hub) Detach(conn room.ConnID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

// Group 實現 broadcast.Transport
func (h *Hub) Group(roomID string) []room.ConnID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.groups[roomID]
	out := make([]room.ConnID, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

// ConnectionCount 目前連線數
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stop 拒絕新連線、關閉所有連線，並等待讀寫 goroutine 結束
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopping = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	// 關閉底層連線讓 readPump 結束，清理流程與一般斷線相同
	for _, c := range conns {
		c.cancel()
		_ = c.ws.Close()
	}
	h.wg.Wait()

	h.logger.Info("WebSocket Hub 已停止", "closed", len(conns))
}

// readPump 讀取客戶端訊息並交給 Dispatcher
//
// 讀取期限為 PongWait，每收到 Pong 就延長一次；期限內沒有任何訊框視為斷線。
func (c *Connection) readPump(d Dispatcher) {
	defer c.hub.wg.Done()
	defer func() {
		if c.hub.unregister(c) {
			if err := d.Disconnect(c.ID); err != nil {
				c.hub.logger.Debug("斷線事件未送達", "conn_id", c.ID, "error", err)
			}
			c.hub.logger.Info("WebSocket 連接斷開", "conn_id", c.ID)
		}
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		messageType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤", "conn_id", c.ID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.hub.logger.Debug("無效訊框", "conn_id", c.ID, "error", err)
			c.rejectFrame()
			continue
		}

		if err := d.Dispatch(c.ctx, c.ID, env); err != nil {
			c.hub.logger.Debug("事件分派失敗", "conn_id", c.ID, "event", env.Event, "error", err)
			return
		}
	}
}

// rejectFrame 無法解析的訊框只回覆給發送者
func (c *Connection) rejectFrame() {
	frame, err := protocol.Encode(protocol.EventRoomError, protocol.ErrorPayload{Message: protocol.MsgInvalidMessage})
	if err != nil {
		return
	}
	if err := c.hub.Send(c.ID, frame); err != nil {
		c.hub.logger.Debug("錯誤回覆被丟棄", "conn_id", c.ID, "error", err)
	}
}

// writePump 把發送通道的訊框寫到連線，並定期送出 Ping
func (c *Connection) writePump() {
	defer c.hub.wg.Done()

	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				// 發送通道已關閉，嘗試正常關閉
				_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.logger.Debug("WebSocket 寫入失敗", "conn_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package router 依事件類型分派客戶端訊息，驅動每個連線的狀態機
//
// 連線狀態：
//
//	Idle ──room.create/room.join──▶ InRoom(roomID)
//	Idle ──matchmaking.join──▶ Queued ──配對成功──▶ InRoom(roomID)
//	Queued ──matchmaking.cancel──▶ Idle
//	InRoom ──room.leave──▶ Idle
//	任何狀態 ──斷線──▶ Disconnected（終止）
//
// 所有事件都在同一個 goroutine 中依序處理，每個事件就是一次完整的狀態轉換。
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/koopa0/system-design/cursor-rooms/internal/broadcast"
	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
	"github.com/koopa0/system-design/cursor-rooms/pkg/logger"
)

// DefaultInboxSize 事件佇列預設容量
const DefaultInboxSize = 1024

// ErrStopped Router 已停止
var ErrStopped = errors.New("router stopped")

// State 連線狀態
type State int

const (
	StateIdle State = iota
	StateQueued
	StateInRoom
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateInRoom:
		return "in_room"
	default:
		return "unknown"
	}
}

// 事件處理結果，用於指標
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusIgnored = "ignored"
)

type session struct {
	state  State
	roomID string
}

type inboundKind int

const (
	kindConnect inboundKind = iota
	kindEvent
	kindDisconnect
)

type inbound struct {
	kind inboundKind
	conn room.ConnID
	env  protocol.Envelope
}

// Router 事件分派器
type Router struct {
	manager  *room.Manager
	fanout   *broadcast.Fanout
	observer Observer
	logger   *slog.Logger

	inbox    chan inbound
	sessions map[room.ConnID]*session // 只在 run goroutine 中存取

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config Router 設定
type Config struct {
	InboxSize int
	Observer  Observer
}

// New 創建 Router；呼叫 Start 之後才會開始處理事件
func New(manager *room.Manager, fanout *broadcast.Fanout, cfg Config, logger *slog.Logger) *Router {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	return &Router{
		manager:  manager,
		fanout:   fanout,
		observer: cfg.Observer,
		logger:   logger,
		inbox:    make(chan inbound, cfg.InboxSize),
		sessions: make(map[room.ConnID]*session),
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動事件處理 goroutine
func (r *Router) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop 停止接收新事件，處理完已排入的事件後返回
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Connect 註冊新連線，狀態為 Idle
func (r *Router) Connect(ctx context.Context, conn room.ConnID) error {
	return r.enqueue(ctx, inbound{kind: kindConnect, conn: conn})
}

// Dispatch 把客戶端事件排入處理佇列；佇列滿時阻塞直到 ctx 結束
func (r *Router) Dispatch(ctx context.Context, conn room.ConnID, env protocol.Envelope) error {
	return r.enqueue(ctx, inbound{kind: kindEvent, conn: conn, env: env})
}

// Disconnect 排入斷線清理
//
// 斷線清理不受呼叫端 context 影響，只在 Router 停止時放棄。
func (r *Router) Disconnect(conn room.ConnID) error {
	return r.enqueue(context.Background(), inbound{kind: kindDisconnect, conn: conn})
}

func (r *Router) enqueue(ctx context.Context, in inbound) error {
	select {
	case <-r.stopCh:
		return ErrStopped
	default:
	}

	select {
	case r.inbox <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopCh:
		return ErrStopped
	}
}

func (r *Router) run() {
	defer r.wg.Done()

	for {
		select {
		case in := <-r.inbox:
			r.process(in)
		case <-r.stopCh:
			// 處理停止前已排入的事件，斷線清理不能遺失
			for {
				select {
				case in := <-r.inbox:
					r.process(in)
				default:
					return
				}
			}
		}
	}
}

// process 處理一個事件；只能在 run goroutine 中呼叫
func (r *Router) process(in inbound) {
	switch in.kind {
	case kindConnect:
		r.sessions[in.conn] = &session{state: StateIdle}
		r.observer.Connected(in.conn)

	case kindDisconnect:
		r.handleDisconnect(in.conn)

	case kindEvent:
		s, ok := r.sessions[in.conn]
		if !ok {
			// 未註冊或已斷線的連線
			r.observer.EventHandled(in.env.Event, StatusIgnored)
			return
		}
		status := r.handleEvent(in.conn, s, in.env)
		r.observer.EventHandled(in.env.Event, status)
	}
}

func (r *Router) handleEvent(conn room.ConnID, s *session, env protocol.Envelope) string {
	ctx := logger.WithConnID(context.Background(), string(conn))
	r.logger.DebugContext(ctx, "收到事件", "event", env.Event, "state", s.state)

	switch env.Event {
	case protocol.EventRoomCreate:
		return r.handleCreate(ctx, conn, s, env)
	case protocol.EventRoomJoin:
		return r.handleJoin(ctx, conn, s, env)
	case protocol.EventRoomLeave:
		return r.handleLeave(conn, s)
	case protocol.EventCursorMove:
		return r.handleMove(ctx, conn, env)
	case protocol.EventMatchmakingJoin:
		return r.handleMatchmakingJoin(ctx, conn, s, env)
	case protocol.EventMatchmakingCancel:
		return r.handleMatchmakingCancel(conn, s)
	default:
		r.reject(ctx, conn, apperrors.ErrUnknownEvent.WithDetails(env.Event), broadcast.ErrUnknownEvent)
		return StatusError
	}
}

func (r *Router) handleCreate(ctx context.Context, conn room.ConnID, s *session, env protocol.Envelope) string {
	p, err := protocol.DecodeData[protocol.CreateRoom](env)
	if err != nil {
		r.reject(ctx, conn, err, broadcast.ErrCreateRoom)
		return StatusError
	}

	entered, err := r.manager.CreateRoom(conn, p.DisplayName)
	if err != nil {
		r.reject(ctx, conn, err, broadcast.ErrCreateRoom)
		return StatusError
	}

	r.afterEnter(conn, entered)
	s.state, s.roomID = StateInRoom, entered.RoomID

	r.fanout.RoomCreated(conn, entered.RoomID)
	r.observer.RoomCreated(entered.RoomID, conn)
	r.fanout.BroadcastRoom(entered.RoomID, entered.Members)
	return StatusOK
}

func (r *Router) handleJoin(ctx context.Context, conn room.ConnID, s *session, env protocol.Envelope) string {
	p, err := protocol.DecodeData[protocol.JoinRoom](env)
	if err != nil {
		r.reject(ctx, conn, err, broadcast.ErrJoinRoom)
		return StatusError
	}

	entered, err := r.manager.JoinRoom(p.RoomID, conn, p.DisplayName)
	if err != nil {
		kind := broadcast.ErrJoinRoom
		if apperrors.IsNotFound(err) {
			kind = broadcast.ErrRoomNotFound
		}
		r.reject(ctx, conn, err, kind)
		return StatusError
	}

	r.afterEnter(conn, entered)
	s.state, s.roomID = StateInRoom, entered.RoomID

	r.fanout.RoomJoined(conn, entered.RoomID)
	r.fanout.BroadcastRoom(entered.RoomID, entered.Members)
	return StatusOK
}

func (r *Router) handleLeave(conn room.ConnID, s *session) string {
	removal := r.manager.Leave(conn)
	if !removal.Removed {
		return StatusIgnored
	}

	s.state, s.roomID = StateIdle, ""
	r.fanout.RoomLeft(conn, removal.RoomID)
	r.afterRemoval(removal)
	return StatusOK
}

func (r *Router) handleMove(ctx context.Context, conn room.ConnID, env protocol.Envelope) string {
	p, err := protocol.DecodeData[protocol.CursorMove](env)
	if err != nil {
		r.reject(ctx, conn, err, broadcast.ErrInvalidMessage)
		return StatusError
	}

	members, ok := r.manager.UpdatePosition(p.RoomID, conn, *p.Position)
	if !ok {
		// 移動與離開競爭，靜默忽略
		return StatusIgnored
	}

	r.fanout.BroadcastRoom(p.RoomID, members)
	return StatusOK
}

func (r *Router) handleMatchmakingJoin(ctx context.Context, conn room.ConnID, s *session, env protocol.Envelope) string {
	if s.state == StateInRoom {
		r.reject(ctx, conn, apperrors.ErrAlreadyInRoom.WithDetails(s.roomID), broadcast.ErrAlreadyInRoom)
		return StatusError
	}

	p, err := protocol.DecodeData[protocol.JoinMatchmaking](env)
	if err != nil {
		r.reject(ctx, conn, err, broadcast.ErrMatchmaking)
		return StatusError
	}

	result, err := r.manager.EnqueueOrMatch(conn, p.DisplayName)
	if err != nil {
		kind := broadcast.ErrMatchmaking
		if errors.Is(err, apperrors.ErrAlreadyInRoom) {
			kind = broadcast.ErrAlreadyInRoom
		}
		r.reject(ctx, conn, err, kind)
		return StatusError
	}

	if !result.Matched {
		s.state = StateQueued
		r.fanout.NotifyWaiting(conn)
		return StatusOK
	}

	s.state, s.roomID = StateInRoom, result.RoomID
	if peer, ok := r.sessions[result.Peer]; ok {
		peer.state, peer.roomID = StateInRoom, result.RoomID
	}

	r.fanout.NotifyMatch(result.RoomID, result.Members, result.Peer, conn)
	r.observer.MatchMade(result.RoomID, result.Peer, conn)
	return StatusOK
}

func (r *Router) handleMatchmakingCancel(conn room.ConnID, s *session) string {
	r.manager.CancelMatchmaking(conn)
	if s.state == StateQueued {
		s.state = StateIdle
	}
	r.fanout.NotifyCancelled(conn)
	return StatusOK
}

// handleDisconnect 斷線清理，每個連線只執行一次
func (r *Router) handleDisconnect(conn room.ConnID) {
	s, ok := r.sessions[conn]
	if !ok {
		return
	}
	delete(r.sessions, conn)

	r.manager.RemoveOnDisconnect(conn)
	removal := r.manager.Leave(conn)
	if removal.Removed {
		r.fanout.Detach(conn, removal.RoomID)
		r.afterRemoval(removal)
	}

	r.observer.Disconnected(conn)
	r.logger.Debug("連線清理完成", "conn_id", conn, "state", s.state, "room_id", s.roomID)
}

// reject 只通知發出請求的連線；客戶端輸入錯誤記為 Debug，其餘記為 Warn
func (r *Router) reject(ctx context.Context, conn room.ConnID, err error, kind broadcast.ErrorKind) {
	switch {
	case apperrors.IsInvalidInput(err):
		r.logger.DebugContext(ctx, "拒絕無效請求", "error", err)
	case apperrors.IsNotFound(err), errors.Is(err, apperrors.ErrAlreadyInRoom):
		r.logger.DebugContext(ctx, "請求不符合目前狀態", "error", err)
	default:
		r.logger.WarnContext(ctx, "處理事件失敗", "error", err)
	}
	r.fanout.NotifyError(conn, kind)
}

// afterEnter 處理進入新房間前自動離開的舊房間
func (r *Router) afterEnter(conn room.ConnID, entered room.Entered) {
	if entered.Previous.Removed {
		r.fanout.Detach(conn, entered.Previous.RoomID)
		r.afterRemoval(entered.Previous)
	}
}

// afterRemoval 成員離開後通知剩餘成員，或記錄房間刪除
func (r *Router) afterRemoval(removal room.Removal) {
	if !removal.RoomAlive {
		r.observer.RoomDeleted(removal.RoomID)
		return
	}
	if removal.NewHost != "" {
		r.observer.HostChanged(removal.RoomID, removal.NewHost)
	}
	r.fanout.BroadcastRoom(removal.RoomID, removal.Members)
}

// Package broadcast 把房間狀態變更編碼成事件並投遞給對應的連線
package broadcast

import (
	"log/slog"

	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

// Transport 傳輸層提供的投遞能力
//
// Send 必須是非阻塞的：緩衝區滿時回傳錯誤並丟棄，而不是等待。
type Transport interface {
	Send(conn room.ConnID, frame []byte) error
	Attach(conn room.ConnID, roomID string)
	Detach(conn room.ConnID, roomID string)
	Group(roomID string) []room.ConnID
}

// ErrorKind 回報給單一連線的錯誤種類
type ErrorKind int

const (
	ErrRoomNotFound ErrorKind = iota
	ErrCreateRoom
	ErrJoinRoom
	ErrInvalidMessage
	ErrUnknownEvent
	ErrMatchmaking
	ErrAlreadyInRoom
)

// event 與 message 決定錯誤送到哪個事件、帶什麼訊息
func (k ErrorKind) event() (string, string) {
	switch k {
	case ErrRoomNotFound:
		return protocol.EventRoomError, protocol.MsgRoomNotFound
	case ErrCreateRoom:
		return protocol.EventRoomError, protocol.MsgCreateRoomFailed
	case ErrJoinRoom:
		return protocol.EventRoomError, protocol.MsgJoinRoomFailed
	case ErrMatchmaking:
		return protocol.EventMatchmakingError, protocol.MsgMatchmakingFailed
	case ErrAlreadyInRoom:
		return protocol.EventMatchmakingError, protocol.MsgAlreadyInRoom
	case ErrUnknownEvent:
		return protocol.EventRoomError, protocol.MsgUnknownEvent
	default:
		return protocol.EventRoomError, protocol.MsgInvalidMessage
	}
}

// DropCounter 記錄被丟棄的訊框數量
type DropCounter interface {
	MessageDropped(event string)
}

// Fanout 廣播投遞器
type Fanout struct {
	transport Transport
	drops     DropCounter
	logger    *slog.Logger
}

// New 創建廣播投遞器；drops 可以為 nil
func New(transport Transport, drops DropCounter, logger *slog.Logger) *Fanout {
	return &Fanout{
		transport: transport,
		drops:     drops,
		logger:    logger,
	}
}

// RoomCreated 把連線加入房間群組並回覆 room.created
func (f *Fanout) RoomCreated(conn room.ConnID, roomID string) {
	f.transport.Attach(conn, roomID)
	f.send(conn, protocol.EventRoomCreated, protocol.RoomRef{RoomID: roomID})
}

// RoomJoined 把連線加入房間群組並回覆 room.joined
func (f *Fanout) RoomJoined(conn room.ConnID, roomID string) {
	f.transport.Attach(conn, roomID)
	f.send(conn, protocol.EventRoomJoined, protocol.RoomRef{RoomID: roomID})
}

// RoomLeft 把連線移出房間群組並回覆 room.left
func (f *Fanout) RoomLeft(conn room.ConnID, roomID string) {
	f.transport.Detach(conn, roomID)
	f.send(conn, protocol.EventRoomLeft, protocol.RoomRef{RoomID: roomID})
}

// Detach 只移出群組，不通知（斷線時使用）
func (f *Fanout) Detach(conn room.ConnID, roomID string) {
	f.transport.Detach(conn, roomID)
}

// BroadcastRoom 把完整成員快照送給房間群組內的每一個連線
func (f *Fanout) BroadcastRoom(roomID string, members []room.Member) {
	frame, err := protocol.Encode(protocol.EventMembersUpdate, protocol.MembersUpdate{
		RoomID:  roomID,
		Members: members,
	})
	if err != nil {
		f.logger.Error("編碼成員更新失敗", "room_id", roomID, "error", err)
		return
	}

	for _, conn := range f.transport.Group(roomID) {
		f.deliver(conn, protocol.EventMembersUpdate, frame)
	}
}

// NotifyMatch 把兩個配對成功的連線加入房間群組，並只送 match.found 給這兩個連線
func (f *Fanout) NotifyMatch(roomID string, members []room.Member, a, b room.ConnID) {
	f.transport.Attach(a, roomID)
	f.transport.Attach(b, roomID)

	frame, err := protocol.Encode(protocol.EventMatchFound, protocol.MatchFound{
		RoomID:  roomID,
		Members: members,
	})
	if err != nil {
		f.logger.Error("編碼配對結果失敗", "room_id", roomID, "error", err)
		return
	}

	f.deliver(a, protocol.EventMatchFound, frame)
	f.deliver(b, protocol.EventMatchFound, frame)
}

// NotifyWaiting 通知單一連線正在等待對手
func (f *Fanout) NotifyWaiting(conn room.ConnID) {
	f.send(conn, protocol.EventMatchmakingWaiting, protocol.Empty{})
}

// NotifyCancelled 通知單一連線已取消配對
func (f *Fanout) NotifyCancelled(conn room.ConnID) {
	f.send(conn, protocol.EventMatchmakingCancelled, protocol.Empty{})
}

// NotifyError 只通知發出請求的連線，不影響其他連線
func (f *Fanout) NotifyError(conn room.ConnID, kind ErrorKind) {
	event, message := kind.event()
	f.send(conn, event, protocol.ErrorPayload{Message: message})
}

func (f *Fanout) send(conn room.ConnID, event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		f.logger.Error("編碼事件失敗", "event", event, "conn_id", conn, "error", err)
		return
	}
	f.deliver(conn, event, frame)
}

func (f *Fanout) deliver(conn room.ConnID, event string, frame []byte) {
	if err := f.transport.Send(conn, frame); err != nil {
		f.logger.Warn("訊框被丟棄", "event", event, "conn_id", conn, "error", err)
		if f.drops != nil {
			f.drops.MessageDropped(event)
		}
	}
}

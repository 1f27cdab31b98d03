// Package protocol 定義 WebSocket 上的事件名稱與資料格式
//
// 每個文字訊框都是一個 JSON 信封：
//
//	{"event": "room.join", "data": {"roomId": "ABC123", "displayName": "Ann"}}
package protocol

import (
	"encoding/json"

	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

// 客戶端 → 伺服器
const (
	EventRoomCreate        = "room.create"
	EventRoomJoin          = "room.join"
	EventRoomLeave         = "room.leave"
	EventCursorMove        = "cursor.move"
	EventMatchmakingJoin   = "matchmaking.join"
	EventMatchmakingCancel = "matchmaking.cancel"
)

// 伺服器 → 客戶端
const (
	EventRoomCreated          = "room.created"
	EventRoomJoined           = "room.joined"
	EventRoomLeft             = "room.left"
	EventRoomError            = "room.error"
	EventMembersUpdate        = "members.update"
	EventMatchmakingWaiting   = "matchmaking.waiting"
	EventMatchmakingCancelled = "matchmaking.cancelled"
	EventMatchFound           = "match.found"
	EventMatchmakingError     = "matchmaking.error"
)

// 回傳給客戶端的錯誤訊息
const (
	MsgRoomNotFound      = "Room not found"
	MsgCreateRoomFailed  = "Failed to create room"
	MsgJoinRoomFailed    = "Failed to join room"
	MsgMatchmakingFailed = "Failed to join matchmaking"
	MsgAlreadyInRoom     = "Already in a room"
	MsgInvalidMessage    = "Invalid message"
	MsgUnknownEvent      = "Unknown event"
)

// Envelope 收到的訊息；Data 延後解碼
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message 送出的訊息
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// CreateRoom room.create
type CreateRoom struct {
	DisplayName string `json:"displayName"`
}

// JoinRoom room.join
type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// CursorMove cursor.move
type CursorMove struct {
	RoomID   string         `json:"roomId"`
	Position *room.Position `json:"position"`
}

// JoinMatchmaking matchmaking.join
type JoinMatchmaking struct {
	DisplayName string `json:"displayName"`
}

// RoomRef room.created / room.joined / room.left
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload room.error / matchmaking.error
type ErrorPayload struct {
	Message string `json:"message"`
}

// MembersUpdate members.update
type MembersUpdate struct {
	RoomID  string        `json:"roomId"`
	Members []room.Member `json:"members"`
}

// MatchFound match.found
type MatchFound struct {
	RoomID  string        `json:"roomId"`
	Members []room.Member `json:"members"`
}

// Empty 沒有內容的事件
type Empty struct{}

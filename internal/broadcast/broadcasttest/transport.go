// Package broadcasttest 提供記錄投遞結果的 Transport，供測試使用
package broadcasttest

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
)

// ErrFull 模擬緩衝區已滿
var ErrFull = errors.New("send buffer full")

// Received 某個連線收到的一則訊息
type Received struct {
	Event string
	Data  json.RawMessage
}

// Transport 記憶體中的 Transport 實作
type Transport struct {
	mu     sync.Mutex
	groups map[string][]room.ConnID
	inbox  map[room.ConnID][]Received
	full   map[room.ConnID]bool
}

// New 創建測試用 Transport
func New() *Transport {
	return &Transport{
		groups: make(map[string][]room.ConnID),
		inbox:  make(map[room.ConnID][]Received),
		full:   make(map[room.ConnID]bool),
	}
}

// SetFull 讓某個連線的 Send 一律失敗
func (t *Transport) SetFull(conn room.ConnID, full bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.full[conn] = full
}

// Send 實現 broadcast.Transport
func (t *Transport) Send(conn room.ConnID, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.full[conn] {
		return ErrFull
	}

	var msg protocol.Envelope
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	t.inbox[conn] = append(t.inbox[conn], Received{Event: msg.Event, Data: msg.Data})
	return nil
}

// Attach 實現 broadcast.Transport
func (t *Transport) Attach(conn room.ConnID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(t.groups[roomID], conn) {
		t.groups[roomID] = append(t.groups[roomID], conn)
	}
}

// Detach 實現 broadcast.Transport
func (t *Transport) Detach(conn room.ConnID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group := slices.DeleteFunc(t.groups[roomID], func(c room.ConnID) bool { return c == conn })
	if len(group) == 0 {
		delete(t.groups, roomID)
		return
	}
	t.groups[roomID] = group
}

// Group 實現 broadcast.Transport
func (t *Transport) Group(roomID string) []room.ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.groups[roomID])
}

// Messages 取出某個連線收到的全部訊息
func (t *Transport) Messages(conn room.ConnID) []Received {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.inbox[conn])
}

// Events 只取事件名稱
func (t *Transport) Events(conn room.ConnID) []string {
	msgs := t.Messages(conn)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event
	}
	return out
}

// Last 取出某個連線收到的最後一則指定事件，並解碼到 v
func (t *Transport) Last(conn room.ConnID, event string, v any) bool {
	msgs := t.Messages(conn)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Event == event {
			return json.Unmarshal(msgs[i].Data, v) == nil
		}
	}
	return false
}

// Count 某個連線收到指定事件的次數
func (t *Transport) Count(conn room.ConnID, event string) int {
	n := 0
	for _, m := range t.Messages(conn) {
		if m.Event == event {
			n++
		}
	}
	return n
}

// Reset 清空所有連線的收件匣（保留群組）
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = make(map[room.ConnID][]Received)
}

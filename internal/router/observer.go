package router

import "github.com/koopa0/system-design/cursor-rooms/internal/room"

// Observer 接收生命週期通知
//
// 所有方法都在 Router 的處理 goroutine 中同步呼叫，實作不可阻塞。
type Observer interface {
	Connected(conn room.ConnID)
	Disconnected(conn room.ConnID)
	EventHandled(event, status string)
	RoomCreated(roomID string, host room.ConnID)
	RoomDeleted(roomID string)
	HostChanged(roomID string, newHost room.ConnID)
	MatchMade(roomID string, host, guest room.ConnID)
}

// NopObserver 什麼都不做
type NopObserver struct{}

func (NopObserver) Connected(room.ConnID) {}
func (NopObserver) Disconnected(room.ConnID) {}
func (NopObserver) EventHandled(string, string) {}
func (NopObserver) RoomCreated(string, room.ConnID) {}
func (NopObserver) RoomDeleted(string) {}
func (NopObserver) HostChanged(string, room.ConnID) {}
func (NopObserver) MatchMade(string, room.ConnID, room.ConnID) {}

// Observers 依序通知多個 Observer
type Observers []Observer

func (o Observers) Connected(conn room.ConnID) {
	for _, ob := range o {
		ob.Connected(conn)
	}
}

func (o Observers) Disconnected(conn room.ConnID) {
	for _, ob := range o {
		ob.Disconnected(conn)
	}
}

func (o Observers) EventHandled(event, status string) {
	for _, ob := range o {
		ob.EventHandled(event, status)
	}
}

func (o Observers) RoomCreated(roomID string, host room.ConnID) {
	for _, ob := range o {
		ob.RoomCreated(roomID, host)
	}
}

func (o Observers) RoomDeleted(roomID string) {
	for _, ob := range o {
		ob.RoomDeleted(roomID)
	}
}

func (o Observers) HostChanged(roomID string, newHost room.ConnID) {
	for _, ob := range o {
		ob.HostChanged(roomID, newHost)
	}
}

func (o Observers) MatchMade(roomID string, host, guest room.ConnID) {
	for _, ob := range o {
		ob.MatchMade(roomID, host, guest)
	}
}

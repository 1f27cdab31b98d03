package room

import (
	"slices"
	"time"
)

// ConnID 連線識別碼，由傳輸層在連線建立時分配，連線存活期間有效
type ConnID string

// Position 游標座標
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player 房間內的玩家
type Player struct {
	Name     string
	Position Position
	IsHost   bool
	JoinedAt time.Time

	seq uint64 // 加入序號，決定快照順序與房主轉移
}

// Member 成員快照（值複製，可在鎖外使用）
type Member struct {
	ID       ConnID   `json:"id"`
	Name     string   `json:"displayName"`
	Position Position `json:"position"`
	IsHost   bool     `json:"isHost"`
}

// Room 房間
//
// Room 只能透過 Manager 存取，所有方法都假設呼叫端已持有 Manager 的鎖。
type Room struct {
	ID        string
	HostID    ConnID
	CreatedAt time.Time

	members map[ConnID]*Player
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: now,
		members:   make(map[ConnID]*Player),
	}
}

// add 加入成員；isHost 為 true 時同時設定 HostID
func (r *Room) add(conn ConnID, name string, seq uint64, isHost bool, now time.Time) {
	r.members[conn] = &Player{
		Name:     name,
		IsHost:   isHost,
		JoinedAt: now,
		seq:      seq,
	}
	if isHost {
		r.HostID = conn
	}
}

// remove 移除成員
//
// 回傳是否真的移除，以及房主轉移後的新房主（沒有轉移時為空字串）。
// 房間被清空時不做房主轉移，由 Manager 在同一次轉換中刪除房間。
func (r *Room) remove(conn ConnID) (removed bool, newHost ConnID) {
	player, exists := r.members[conn]
	if !exists {
		return false, ""
	}
	delete(r.members, conn)

	if !player.IsHost || len(r.members) == 0 {
		return true, ""
	}

	// 加入序號最小者接任房主
	var (
		nextID ConnID
		next   *Player
	)
	for id, p := range r.members {
		if next == nil || p.seq < next.seq {
			nextID, next = id, p
		}
	}
	next.IsHost = true
	r.HostID = nextID

	return true, nextID
}

func (r *Room) has(conn ConnID) bool {
	_, ok := r.members[conn]
	return ok
}

func (r *Room) size() int {
	return len(r.members)
}

// snapshot 依加入順序複製成員列表
func (r *Room) snapshot() []Member {
	type ordered struct {
		seq uint64
		m   Member
	}

	list := make([]ordered, 0, len(r.members))
	for id, p := range r.members {
		list = append(list, ordered{
			seq: p.seq,
			m: Member{
				ID:       id,
				Name:     p.Name,
				Position: p.Position,
				IsHost:   p.IsHost,
			},
		})
	}
	slices.SortFunc(list, func(a, b ordered) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	out := make([]Member, len(list))
	for i, o := range list {
		out[i] = o.m
	}
	return out
}

package room

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
)

// Manager 房間與配對佇列的唯一擁有者
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*Room  // roomID -> Room
	memberOf map[ConnID]string // connID -> roomID
	queue    *list.List        // 元素為 *queueEntry，依到達順序排列
	queued   map[ConnID]*list.Element
	seq      uint64

	codes       CodeGenerator
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// Option 設定 Manager
type Option func(*Manager)

// WithCodeGenerator 替換房間代碼產生器
func WithCodeGenerator(g CodeGenerator) Option {
	return func(m *Manager) {
		m.codes = g
	}
}

// WithMaxCodeAttempts 設定產生唯一代碼的最大嘗試次數
func WithMaxCodeAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithClock 替換時間來源
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager 創建房間管理器
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		rooms:       make(map[string]*Room),
		memberOf:    make(map[ConnID]string),
		queue:       list.New(),
		queued:      make(map[ConnID]*list.Element),
		codes:       NewRandomCodes(DefaultCodeLength),
		maxAttempts: DefaultMaxCodeAttempts,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Removal 移除成員的結果
type Removal struct {
	RoomID    string
	Removed   bool     // 連線確實是該房間成員且已移除
	RoomAlive bool     // 移除後房間仍存在
	NewHost   ConnID   // 發生房主轉移時的新房主
	Members   []Member // RoomAlive 時的最新快照
}

// Entered 建立或加入房間的結果
type Entered struct {
	RoomID  string
	Members []Member

	// Previous 進入新房間前自動離開的舊房間（Removed 為 false 表示沒有）
	Previous Removal
	// Dequeued 進入房間前是否從配對佇列移除
	Dequeued bool
}

// Stats 即時統計
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
	Queued  int `json:"queued"`
}

// CreateRoom 創建房間，呼叫者成為唯一成員兼房主
//
// 呼叫者若仍在其他房間或配對佇列中，會在同一次轉換中先離開，
// 因此一個連線永遠不會同時屬於兩個房間。
func (m *Manager) CreateRoom(conn ConnID, name string) (Entered, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, err := m.uniqueCodeLocked()
	if err != nil {
		m.logger.Error("創建房間失敗", "conn_id", conn, "error", err)
		return Entered{}, err
	}

	result := Entered{RoomID: roomID}
	result.Dequeued = m.dequeueLocked(conn)
	result.Previous = m.leaveLocked(conn)

	now := m.now()
	room := newRoom(roomID, now)
	room.add(conn, name, m.nextSeq(), true, now)
	m.rooms[roomID] = room
	m.memberOf[conn] = roomID

	result.Members = room.snapshot()

	m.logger.Info("房間已創建", "room_id", roomID, "host", conn, "name", name)

	return result, nil
}

// JoinRoom 加入房間，新成員不是房主，座標為 (0,0)
//
// 房間不存在時回傳 ErrRoomNotFound 且不做任何修改。
// 已經是該房間成員時視為成功，不重複加入。
func (m *Manager) JoinRoom(roomID string, conn ConnID, name string) (Entered, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return Entered{}, apperrors.ErrRoomNotFound.WithDetails(roomID)
	}

	result := Entered{RoomID: roomID}
	if room.has(conn) {
		result.Members = room.snapshot()
		return result, nil
	}

	result.Dequeued = m.dequeueLocked(conn)
	result.Previous = m.leaveLocked(conn)

	room.add(conn, name, m.nextSeq(), false, m.now())
	m.memberOf[conn] = roomID
	result.Members = room.snapshot()

	m.logger.Info("玩家加入房間", "room_id", roomID, "conn_id", conn, "name", name, "members", room.size())

	return result, nil
}

// UpdatePosition 覆寫成員座標（最後寫入者勝）
//
// 房間不存在或連線不是成員時靜默忽略，回傳 false；
// 這是移動事件與離開事件競爭時的正常情況，不是錯誤。
func (m *Manager) UpdatePosition(roomID string, conn ConnID, pos Position) ([]Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return nil, false
	}
	player, exists := room.members[conn]
	if !exists {
		return nil, false
	}

	player.Position = pos
	return room.snapshot(), true
}

// RemoveMember 從房間移除成員（冪等）
//
// 房間被清空時在同一次轉換中刪除；房主離開時由加入最早的成員接任。
func (m *Manager) RemoveMember(roomID string, conn ConnID) Removal {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeLocked(roomID, conn)
}

// Leave 透過連線索引找到所在房間並移除（冪等）
func (m *Manager) Leave(conn ConnID) Removal {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.leaveLocked(conn)
}

// Snapshot 取得房間成員快照
func (m *Manager) Snapshot(roomID string) ([]Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return nil, false
	}
	return room.snapshot(), true
}

// RoomOf 取得連線所在的房間
func (m *Manager) RoomOf(conn ConnID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID, exists := m.memberOf[conn]
	return roomID, exists
}

// RoomIDs 列出所有存活房間代碼
func (m *Manager) RoomIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Rooms:   len(m.rooms),
		Members: len(m.memberOf),
		Queued:  m.queue.Len(),
	}
}

func (m *Manager) leaveLocked(conn ConnID) Removal {
	roomID, exists := m.memberOf[conn]
	if !exists {
		return Removal{}
	}
	return m.removeLocked(roomID, conn)
}

func (m *Manager) removeLocked(roomID string, conn ConnID) Removal {
	room, exists := m.rooms[roomID]
	if !exists {
		return Removal{RoomID: roomID}
	}

	removed, newHost := room.remove(conn)
	if !removed {
		return Removal{RoomID: roomID, RoomAlive: true}
	}
	if m.memberOf[conn] == roomID {
		delete(m.memberOf, conn)
	}

	if room.size() == 0 {
		delete(m.rooms, roomID)
		m.logger.Info("房間已刪除", "room_id", roomID, "last_member", conn)
		return Removal{RoomID: roomID, Removed: true}
	}

	if newHost != "" {
		m.logger.Info("房主已轉移", "room_id", roomID, "old_host", conn, "new_host", newHost)
	}

	return Removal{
		RoomID:    roomID,
		Removed:   true,
		RoomAlive: true,
		NewHost:   newHost,
		Members:   room.snapshot(),
	}
}

// uniqueCodeLocked 產生一個不與存活房間衝突的代碼
func (m *Manager) uniqueCodeLocked() (string, error) {
	var lastErr error
	for range m.maxAttempts {
		code, err := m.codes.Generate()
		if err != nil {
			lastErr = err
			continue
		}
		if _, taken := m.rooms[code]; !taken {
			return code, nil
		}
	}

	if lastErr != nil {
		return "", apperrors.ErrRoomCreationFailed.WithCause(lastErr)
	}
	return "", apperrors.ErrRoomCreationFailed
}

func (m *Manager) nextSeq() uint64 {
	m.seq++
	return m.seq
}

package room

import (
	"time"

	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
)

type queueEntry struct {
	conn       ConnID
	name       string
	enqueuedAt time.Time
}

// MatchResult 配對結果
//
// Matched 為 false 表示呼叫者正在等待對手。
type MatchResult struct {
	Matched bool
	RoomID  string
	Peer    ConnID // 被配對到的等待者，成為房主
	Members []Member
}

// EnqueueOrMatch 加入配對佇列，或與最早到達的等待者配對
//
// 規則：
//   - 佇列中有其他等待者時，取最早到達者，建立兩人房間（等待者為房主）
//   - 否則呼叫者排入佇列尾端；已在佇列中則保持原位，不重複排入
//   - 呼叫者已在房間內時回傳 ErrAlreadyInRoom
//
// 房間代碼在出列之前產生，代碼產生失敗時佇列保持不變。
func (m *Manager) EnqueueOrMatch(conn ConnID, name string) (MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, inRoom := m.memberOf[conn]; inRoom {
		return MatchResult{}, apperrors.ErrAlreadyInRoom
	}

	var peer *queueEntry
	for e := m.queue.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*queueEntry)
		if entry.conn != conn {
			peer = entry
			break
		}
	}

	if peer == nil {
		if _, waiting := m.queued[conn]; !waiting {
			m.queued[conn] = m.queue.PushBack(&queueEntry{
				conn:       conn,
				name:       name,
				enqueuedAt: m.now(),
			})
			m.logger.Debug("玩家等待配對", "conn_id", conn, "queued", m.queue.Len())
		}
		return MatchResult{}, nil
	}

	roomID, err := m.uniqueCodeLocked()
	if err != nil {
		m.logger.Error("配對失敗", "conn_id", conn, "peer", peer.conn, "error", err)
		return MatchResult{}, apperrors.ErrMatchmakingFailed.WithCause(err)
	}

	m.dequeueLocked(peer.conn)
	m.dequeueLocked(conn)

	now := m.now()
	room := newRoom(roomID, now)
	room.add(peer.conn, peer.name, m.nextSeq(), true, now)
	room.add(conn, name, m.nextSeq(), false, now)
	m.rooms[roomID] = room
	m.memberOf[peer.conn] = roomID
	m.memberOf[conn] = roomID

	m.logger.Info("配對成功",
		"room_id", roomID,
		"host", peer.conn,
		"guest", conn,
		"waited", now.Sub(peer.enqueuedAt))

	return MatchResult{
		Matched: true,
		RoomID:  roomID,
		Peer:    peer.conn,
		Members: room.snapshot(),
	}, nil
}

// CancelMatchmaking 從配對佇列移除（冪等），回傳是否真的移除
func (m *Manager) CancelMatchmaking(conn ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.dequeueLocked(conn)
}

// RemoveOnDisconnect 斷線時呼叫，效果與 CancelMatchmaking 相同
func (m *Manager) RemoveOnDisconnect(conn ConnID) {
	m.CancelMatchmaking(conn)
}

// IsQueued 檢查連線是否在配對佇列中
func (m *Manager) IsQueued(conn ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.queued[conn]
	return ok
}

// Waiting 依到達順序列出等待中的連線
func (m *Manager) Waiting() []ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnID, 0, m.queue.Len())
	for e := m.queue.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*queueEntry).conn)
	}
	return out
}

func (m *Manager) dequeueLocked(conn ConnID) bool {
	e, ok := m.queued[conn]
	if !ok {
		return false
	}
	m.queue.Remove(e)
	delete(m.queued, conn)
	return true
}

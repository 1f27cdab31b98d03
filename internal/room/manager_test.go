package room_test

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"testing"

	"github.com/koopa0/system-design/cursor-rooms/internal/room"
	apperrors "github.com/koopa0/system-design/cursor-rooms/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// sequenceCodes 依序回傳固定代碼，用完後重複最後一個
func sequenceCodes(codes ...string) room.CodeFunc {
	i := 0
	return func() (string, error) {
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}

// checkInvariants 驗證房間與佇列的不變量
func checkInvariants(t *testing.T, m *room.Manager) {
	t.Helper()

	seen := make(map[room.ConnID]string)
	for _, id := range m.RoomIDs() {
		members, ok := m.Snapshot(id)
		require.True(t, ok)
		require.NotEmpty(t, members, "room %s is live but empty", id)

		hosts := 0
		for _, mem := range members {
			if mem.IsHost {
				hosts++
			}
			prev, dup := seen[mem.ID]
			require.False(t, dup, "conn %s in rooms %s and %s", mem.ID, prev, id)
			seen[mem.ID] = id

			roomID, indexed := m.RoomOf(mem.ID)
			require.True(t, indexed)
			require.Equal(t, id, roomID)
		}
		require.Equal(t, 1, hosts, "room %s has %d hosts", id, hosts)
	}

	for _, conn := range m.Waiting() {
		_, inRoom := m.RoomOf(conn)
		require.False(t, inRoom, "conn %s is queued and in a room", conn)
	}
}

// TestManager_CreateRoom 測試創建房間
func TestManager_CreateRoom(t *testing.T) {
	m := room.NewManager(testLogger())

	created, err := m.CreateRoom("conn-x", "Ann")
	require.NoError(t, err)

	assert.Len(t, created.RoomID, room.DefaultCodeLength)
	for _, c := range created.RoomID {
		assert.True(t, strings.ContainsRune(room.CodeAlphabet, c), "unexpected char %q", c)
	}

	require.Len(t, created.Members, 1)
	assert.Equal(t, room.ConnID("conn-x"), created.Members[0].ID)
	assert.Equal(t, "Ann", created.Members[0].Name)
	assert.True(t, created.Members[0].IsHost)
	assert.Equal(t, room.Position{}, created.Members[0].Position)
	assert.False(t, created.Previous.Removed)

	roomID, ok := m.RoomOf("conn-x")
	require.True(t, ok)
	assert.Equal(t, created.RoomID, roomID)
}

// TestManager_CreateRoom_Collision 測試代碼衝突時重試
func TestManager_CreateRoom_Collision(t *testing.T) {
	m := room.NewManager(testLogger(),
		room.WithCodeGenerator(sequenceCodes("AAAAAA", "AAAAAA", "BBBBBB")))

	first, err := m.CreateRoom("a", "A")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first.RoomID)

	second, err := m.CreateRoom("b", "B")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second.RoomID)
}

// TestManager_CreateRoom_Exhausted 測試代碼空間耗盡
func TestManager_CreateRoom_Exhausted(t *testing.T) {
	m := room.NewManager(testLogger(),
		room.WithCodeGenerator(sequenceCodes("AAAAAA")),
		room.WithMaxCodeAttempts(3))

	_, err := m.CreateRoom("a", "A")
	require.NoError(t, err)

	_, err = m.CreateRoom("b", "B")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRoomCreationFailed)

	// 失敗時不做任何修改
	_, inRoom := m.RoomOf("b")
	assert.False(t, inRoom)
	assert.Equal(t, room.Stats{Rooms: 1, Members: 1}, m.Stats())
}

// TestManager_CreateRoom_GeneratorError 測試產生器錯誤被包裝
func TestManager_CreateRoom_GeneratorError(t *testing.T) {
	m := room.NewManager(testLogger(),
		room.WithCodeGenerator(room.CodeFunc(func() (string, error) {
			return "", fmt.Errorf("entropy unavailable")
		})),
		room.WithMaxCodeAttempts(2))

	_, err := m.CreateRoom("a", "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRoomCreationFailed)
	assert.Contains(t, err.Error(), "entropy unavailable")
}

// TestManager_JoinRoom 測試加入房間
func TestManager_JoinRoom(t *testing.T) {
	tests := []struct {
		name     string
		roomID   func(created string) string
		wantErr  error
		validate func(t *testing.T, m *room.Manager, roomID string, entered room.Entered)
	}{
		{
			name:   "join existing room",
			roomID: func(created string) string { return created },
			validate: func(t *testing.T, m *room.Manager, roomID string, entered room.Entered) {
				require.Len(t, entered.Members, 2)
				assert.Equal(t, room.ConnID("host"), entered.Members[0].ID)
				assert.True(t, entered.Members[0].IsHost)
				assert.Equal(t, room.ConnID("guest"), entered.Members[1].ID)
				assert.False(t, entered.Members[1].IsHost)
				assert.Equal(t, room.Position{X: 0, Y: 0}, entered.Members[1].Position)
			},
		},
		{
			name:    "room not found",
			roomID:  func(string) string { return "ZZZZZZ" },
			wantErr: apperrors.ErrRoomNotFound,
			validate: func(t *testing.T, m *room.Manager, roomID string, entered room.Entered) {
				_, inRoom := m.RoomOf("guest")
				assert.False(t, inRoom)
				members, _ := m.Snapshot(roomID)
				assert.Len(t, members, 1)
			},
		},
		{
			name:    "room id is case sensitive",
			roomID:  strings.ToLower,
			wantErr: apperrors.ErrRoomNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := room.NewManager(testLogger(), room.WithCodeGenerator(sequenceCodes("ROOM01")))
			created, err := m.CreateRoom("host", "Host")
			require.NoError(t, err)

			entered, err := m.JoinRoom(tt.roomID(created.RoomID), "guest", "Guest")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, apperrors.IsNotFound(err))
			} else {
				require.NoError(t, err)
			}
			if tt.validate != nil {
				tt.validate(t, m, created.RoomID, entered)
			}
			checkInvariants(t, m)
		})
	}
}

// TestManager_JoinRoom_Twice 測試重複加入同一房間
func TestManager_JoinRoom_Twice(t *testing.T) {
	m := room.NewManager(testLogger())
	created, err := m.CreateRoom("host", "Host")
	require.NoError(t, err)

	_, err = m.JoinRoom(created.RoomID, "guest", "Guest")
	require.NoError(t, err)
	again, err := m.JoinRoom(created.RoomID, "guest", "Guest")
	require.NoError(t, err)

	assert.Len(t, again.Members, 2)
	assert.False(t, again.Previous.Removed)
}

// TestManager_SwitchRoom 測試加入新房間時自動離開舊房間
func TestManager_SwitchRoom(t *testing.T) {
	m := room.NewManager(testLogger(), room.WithCodeGenerator(sequenceCodes("ROOM01", "ROOM02", "ROOM03")))

	r1, err := m.CreateRoom("a", "A")
	require.NoError(t, err)
	_, err = m.JoinRoom(r1.RoomID, "b", "B")
	require.NoError(t, err)

	r2, err := m.CreateRoom("a", "A")
	require.NoError(t, err)

	assert.True(t, r2.Previous.Removed)
	assert.Equal(t, r1.RoomID, r2.Previous.RoomID)
	assert.True(t, r2.Previous.RoomAlive)
	assert.Equal(t, room.ConnID("b"), r2.Previous.NewHost)

	r3, err := m.CreateRoom("c", "C")
	require.NoError(t, err)
	moved, err := m.JoinRoom(r3.RoomID, "b", "B")
	require.NoError(t, err)

	// b 是舊房間最後一位成員，舊房間被刪除
	assert.True(t, moved.Previous.Removed)
	assert.False(t, moved.Previous.RoomAlive)
	_, exists := m.Snapshot(r1.RoomID)
	assert.False(t, exists)

	checkInvariants(t, m)
}

// TestManager_UpdatePosition 測試更新座標
func TestManager_UpdatePosition(t *testing.T) {
	m := room.NewManager(testLogger())
	created, err := m.CreateRoom("a", "A")
	require.NoError(t, err)
	_, err = m.JoinRoom(created.RoomID, "b", "B")
	require.NoError(t, err)

	t.Run("overwrite", func(t *testing.T) {
		members, ok := m.UpdatePosition(created.RoomID, "b", room.Position{X: 10, Y: 20})
		require.True(t, ok)
		assert.Equal(t, room.Position{X: 10, Y: 20}, members[1].Position)

		members, ok = m.UpdatePosition(created.RoomID, "b", room.Position{X: 3, Y: 4})
		require.True(t, ok)
		assert.Equal(t, room.Position{X: 3, Y: 4}, members[1].Position)
	})

	t.Run("unknown room is ignored", func(t *testing.T) {
		_, ok := m.UpdatePosition("NOPE00", "b", room.Position{X: 1})
		assert.False(t, ok)
	})

	t.Run("non member is ignored", func(t *testing.T) {
		_, ok := m.UpdatePosition(created.RoomID, "stranger", room.Position{X: 1})
		assert.False(t, ok)

		members, _ := m.Snapshot(created.RoomID)
		assert.Len(t, members, 2)
	})

	t.Run("after leave is ignored", func(t *testing.T) {
		m.RemoveMember(created.RoomID, "b")
		_, ok := m.UpdatePosition(created.RoomID, "b", room.Position{X: 99})
		assert.False(t, ok)
	})
}

// TestManager_HostHandoff 測試房主轉移是確定性的
func TestManager_HostHandoff(t *testing.T) {
	for run := 0; run < 20; run++ {
		m := room.NewManager(testLogger())
		created, err := m.CreateRoom("h", "H")
		require.NoError(t, err)
		_, err = m.JoinRoom(created.RoomID, "p1", "P1")
		require.NoError(t, err)
		_, err = m.JoinRoom(created.RoomID, "p2", "P2")
		require.NoError(t, err)

		removal := m.RemoveMember(created.RoomID, "h")
		require.True(t, removal.Removed)
		require.True(t, removal.RoomAlive)
		assert.Equal(t, room.ConnID("p1"), removal.NewHost)

		require.Len(t, removal.Members, 2)
		assert.True(t, removal.Members[0].IsHost)
		assert.Equal(t, room.ConnID("p1"), removal.Members[0].ID)
		assert.False(t, removal.Members[1].IsHost)

		checkInvariants(t, m)
	}
}

// TestManager_RoomDeletion 測試最後一位成員離開時刪除房間
func TestManager_RoomDeletion(t *testing.T) {
	m := room.NewManager(testLogger())
	created, err := m.CreateRoom("h", "H")
	require.NoError(t, err)
	_, err = m.JoinRoom(created.RoomID, "p1", "P1")
	require.NoError(t, err)

	removal := m.RemoveMember(created.RoomID, "p1")
	require.True(t, removal.RoomAlive)
	assert.Empty(t, removal.NewHost)
	require.Len(t, removal.Members, 1)
	assert.True(t, removal.Members[0].IsHost)

	removal = m.RemoveMember(created.RoomID, "h")
	assert.True(t, removal.Removed)
	assert.False(t, removal.RoomAlive)
	assert.Nil(t, removal.Members)

	_, exists := m.Snapshot(created.RoomID)
	assert.False(t, exists)
	assert.Equal(t, room.Stats{}, m.Stats())

	// 冪等
	again := m.RemoveMember(created.RoomID, "h")
	assert.False(t, again.Removed)
	assert.False(t, again.RoomAlive)
}

// TestManager_Leave 測試透過索引離開
func TestManager_Leave(t *testing.T) {
	m := room.NewManager(testLogger())
	created, err := m.CreateRoom("h", "H")
	require.NoError(t, err)
	_, err = m.JoinRoom(created.RoomID, "p1", "P1")
	require.NoError(t, err)

	removal := m.Leave("p1")
	assert.True(t, removal.Removed)
	assert.Equal(t, created.RoomID, removal.RoomID)

	assert.Equal(t, room.Removal{}, m.Leave("p1"))
	assert.Equal(t, room.Removal{}, m.Leave("never-seen"))
}

// TestManager_DeletedCodeReuse 測試已刪除的代碼可重用
func TestManager_DeletedCodeReuse(t *testing.T) {
	m := room.NewManager(testLogger(), room.WithCodeGenerator(sequenceCodes("SAME00")))

	first, err := m.CreateRoom("a", "A")
	require.NoError(t, err)
	m.Leave("a")

	second, err := m.CreateRoom("b", "B")
	require.NoError(t, err)
	assert.Equal(t, first.RoomID, second.RoomID)
}

// TestManager_RandomOperations 隨機操作序列下不變量始終成立
func TestManager_RandomOperations(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	m := room.NewManager(testLogger())

	conns := make([]room.ConnID, 8)
	for i := range conns {
		conns[i] = room.ConnID(fmt.Sprintf("conn-%d", i))
	}

	for step := 0; step < 2000; step++ {
		conn := conns[rng.IntN(len(conns))]

		switch rng.IntN(6) {
		case 0:
			_, err := m.CreateRoom(conn, string(conn))
			require.NoError(t, err)
		case 1:
			ids := m.RoomIDs()
			if len(ids) == 0 {
				continue
			}
			_, err := m.JoinRoom(ids[rng.IntN(len(ids))], conn, string(conn))
			require.NoError(t, err)
		case 2:
			m.Leave(conn)
		case 3:
			if roomID, ok := m.RoomOf(conn); ok {
				m.UpdatePosition(roomID, conn, room.Position{X: rng.Float64(), Y: rng.Float64()})
			}
		case 4:
			_, err := m.EnqueueOrMatch(conn, string(conn))
			if err != nil {
				require.ErrorIs(t, err, apperrors.ErrAlreadyInRoom)
			}
		case 5:
			m.CancelMatchmaking(conn)
		}

		checkInvariants(t, m)
	}
}

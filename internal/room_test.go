package internal_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-realtime-pong/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRoom 測試創建新房間
func TestNewRoom(t *testing.T) {
	room := internal.NewRoom("r1")
	require.NotNil(t, room)

	assert.Equal(t, "r1", room.ID)
	assert.False(t, room.IsActive())
	assert.Equal(t, 0, room.PlayerCount())
	require.NotNil(t, room.Game)

	snap := room.Snapshot()
	assert.Empty(t, snap.Players)
	assert.False(t, snap.IsActive)
	assert.Len(t, snap.Obstacles, internal.ObstacleCount)
}

// TestRoom_Join 測試加入與角色分配
func TestRoom_Join(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(room *internal.Room)
		playerID string
		validate func(t *testing.T, room *internal.Room, role internal.Role)
	}{
		{
			name:     "first joiner takes player1, game stays idle",
			setup:    func(room *internal.Room) {},
			playerID: "p1",
			validate: func(t *testing.T, room *internal.Room, role internal.Role) {
				assert.Equal(t, internal.RolePlayer1, role)
				assert.False(t, room.IsActive())
				assert.Equal(t, []string{"p1"}, room.Snapshot().Players)
			},
		},
		{
			name: "second joiner takes player2 and activates the game",
			setup: func(room *internal.Room) {
				room.Join("p1")
			},
			playerID: "p2",
			validate: func(t *testing.T, room *internal.Room, role internal.Role) {
				assert.Equal(t, internal.RolePlayer2, role)
				assert.True(t, room.IsActive())
				assert.Equal(t, []string{"p1", "p2"}, room.Snapshot().Players)
			},
		},
		{
			name: "third joiner becomes spectator",
			setup: func(room *internal.Room) {
				room.Join("p1")
				room.Join("p2")
			},
			playerID: "p3",
			validate: func(t *testing.T, room *internal.Room, role internal.Role) {
				assert.Equal(t, internal.RoleSpectator, role)
				assert.Equal(t, 3, room.PlayerCount())
				assert.True(t, room.IsActive())
			},
		},
		{
			name: "rejoin keeps the original role",
			setup: func(room *internal.Room) {
				room.Join("p1")
				room.Join("p2")
			},
			playerID: "p1",
			validate: func(t *testing.T, room *internal.Room, role internal.Role) {
				assert.Equal(t, internal.RolePlayer1, role)
				assert.Equal(t, 2, room.PlayerCount())
			},
		},
		{
			name: "paddle slot freed by leave is reassigned",
			setup: func(room *internal.Room) {
				room.Join("p1")
				room.Join("p2")
				room.Leave("p1")
			},
			playerID: "p3",
			validate: func(t *testing.T, room *internal.Room, role internal.Role) {
				assert.Equal(t, internal.RolePlayer1, role)
				// 兩個球拍位再次到齊，對局重新開始
				assert.True(t, room.IsActive())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := internal.NewRoom("r1")
			tt.setup(room)
			role := room.Join(tt.playerID)
			tt.validate(t, room, role)
		})
	}
}

// TestRoom_Leave 測試離開與無條件暫停
func TestRoom_Leave(t *testing.T) {
	t.Run("leaving one of two players pauses the game", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")
		require.True(t, room.IsActive())

		remaining, existed := room.Leave("p2")
		assert.True(t, existed)
		assert.Equal(t, 1, remaining)
		assert.False(t, room.IsActive(), "game pauses even with one player left")
		assert.Equal(t, []string{"p1"}, room.Snapshot().Players)
	})

	t.Run("spectator leaving does not pause the game", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")
		room.Join("watcher")
		require.True(t, room.IsActive())

		// 觀戰者與對局的關係是單向的：加入和輸入不影響對局，
		// 離開也一樣
		remaining, existed := room.Leave("watcher")
		assert.True(t, existed)
		assert.Equal(t, 2, remaining)
		assert.True(t, room.IsActive(), "spectator exit must not pause a live match")
	})

	t.Run("leaving last player empties the room", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")

		remaining, existed := room.Leave("p1")
		assert.True(t, existed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("leaving unknown player is a no-op", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")

		remaining, existed := room.Leave("ghost")
		assert.False(t, existed)
		assert.Equal(t, 1, remaining)
	})
}

// TestRoom_MovePaddle 測試球拍輸入的過濾與驗證
func TestRoom_MovePaddle(t *testing.T) {
	maxY := internal.CanvasHeight - internal.PaddleHeight

	tests := []struct {
		name     string
		setup    func(room *internal.Room)
		playerID string
		side     internal.Side
		y        int
		accepted bool
	}{
		{
			name:     "player moves own paddle in range",
			setup:    func(room *internal.Room) { room.Join("p1") },
			playerID: "p1",
			side:     internal.SidePlayer1,
			y:        123,
			accepted: true,
		},
		{
			name:     "out of range y silently dropped",
			setup:    func(room *internal.Room) { room.Join("p1") },
			playerID: "p1",
			side:     internal.SidePlayer1,
			y:        maxY + 1,
			accepted: false,
		},
		{
			name: "spectator input ignored",
			setup: func(room *internal.Room) {
				room.Join("p1")
				room.Join("p2")
				room.Join("p3")
			},
			playerID: "p3",
			side:     internal.SidePlayer1,
			y:        200,
			accepted: false,
		},
		{
			name:     "unknown sender ignored",
			setup:    func(room *internal.Room) { room.Join("p1") },
			playerID: "ghost",
			side:     internal.SidePlayer1,
			y:        200,
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := internal.NewRoom("r1")
			tt.setup(room)

			before := room.Snapshot().Paddles[tt.side].Y
			ok := room.MovePaddle(tt.playerID, tt.side, tt.y)
			assert.Equal(t, tt.accepted, ok)

			after := room.Snapshot().Paddles[tt.side].Y
			if tt.accepted {
				assert.Equal(t, tt.y, after)
			} else {
				assert.Equal(t, before, after, "paddle unchanged on rejection")
			}
		})
	}
}

// TestRoom_Start 測試手動開始
func TestRoom_Start(t *testing.T) {
	t.Run("single player can force start", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		require.False(t, room.IsActive())

		assert.True(t, room.Start("p1"))
		assert.True(t, room.IsActive())
	})

	t.Run("remaining player can resume after opponent leaves", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")
		room.Leave("p2")
		require.False(t, room.IsActive())

		assert.True(t, room.Start("p1"))
		assert.True(t, room.IsActive())
	})

	t.Run("spectator cannot start", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")
		room.Join("watcher")
		room.Leave("p2") // 暫停

		assert.False(t, room.Start("watcher"))
		assert.False(t, room.IsActive())
	})
}

// TestRoom_Advance 測試 tick 推進
func TestRoom_Advance(t *testing.T) {
	t.Run("idle room skips physics", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")

		before := room.Snapshot().Ball
		_, _, ok := room.Advance()
		assert.False(t, ok)
		assert.Equal(t, before, room.Snapshot().Ball, "ball untouched while idle")
	})

	t.Run("active room advances the ball", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")

		before := room.Snapshot().Ball
		snap, scorer, ok := room.Advance()
		require.True(t, ok)
		assert.Equal(t, internal.Side(""), scorer)
		assert.NotEqual(t, before, snap.Ball)
		assert.True(t, snap.IsActive)
	})
}

// TestRoom_Snapshot 測試快照的一致性與隔離
func TestRoom_Snapshot(t *testing.T) {
	room := internal.NewRoom("r1")
	room.Join("p2")
	room.Join("p1")

	snap := room.Snapshot()

	// 玩家列表排序，輸出確定
	assert.Equal(t, []string{"p1", "p2"}, snap.Players)
	assert.Len(t, snap.Paddles, 2)
	assert.Len(t, snap.Scores, 2)
	assert.Len(t, snap.Obstacles, internal.ObstacleCount)

	// 快照是拷貝：修改快照不影響房間狀態
	snap.Scores[internal.SidePlayer1] = 99
	p := snap.Paddles[internal.SidePlayer1]
	p.Y = -1
	snap.Paddles[internal.SidePlayer1] = p

	fresh := room.Snapshot()
	assert.Equal(t, 0, fresh.Scores[internal.SidePlayer1])
	assert.NotEqual(t, -1, fresh.Paddles[internal.SidePlayer1].Y)
}

// TestRoom_Lifecycle 測試取消信號與過期判斷
func TestRoom_Lifecycle(t *testing.T) {
	t.Run("close signals done exactly once", func(t *testing.T) {
		room := internal.NewRoom("r1")

		select {
		case <-room.Done():
			t.Fatal("done 不應在關閉前觸發")
		default:
		}

		room.Close()
		room.Close() // 重複關閉安全

		select {
		case <-room.Done():
		case <-time.After(100 * time.Millisecond):
			t.Fatal("關閉後 done 應立即觸發")
		}
	})

	t.Run("fresh room not expired", func(t *testing.T) {
		room := internal.NewRoom("r1")
		assert.False(t, room.IsExpired(time.Hour))
	})

	t.Run("idle room expires after timeout", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		time.Sleep(10 * time.Millisecond)
		assert.True(t, room.IsExpired(time.Millisecond))
	})

	t.Run("active game never expires", func(t *testing.T) {
		room := internal.NewRoom("r1")
		room.Join("p1")
		room.Join("p2")
		time.Sleep(10 * time.Millisecond)
		assert.False(t, room.IsExpired(time.Millisecond))
	})
}

// TestRoom_ConcurrentOperations 測試模擬循環與會話輸入的並發安全
func TestRoom_ConcurrentOperations(t *testing.T) {
	room := internal.NewRoom("r1")
	room.Join("p1")
	room.Join("p2")

	var wg sync.WaitGroup
	maxY := internal.CanvasHeight - internal.PaddleHeight

	// 模擬循環：持續推進物理
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			room.Advance()
		}
	}()

	// 兩個會話：併發移動球拍
	for i, side := range []internal.Side{internal.SidePlayer1, internal.SidePlayer2} {
		wg.Add(1)
		go func(playerID string, side internal.Side) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				room.MovePaddle(playerID, side, j%(maxY+1))
			}
		}(fmt.Sprintf("p%d", i+1), side)
	}

	// 觀測者：持續取快照
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := room.Snapshot()
			assert.Len(t, snap.Players, 2)
		}
	}()

	wg.Wait()

	// 不變量：球拍永遠在合法範圍內
	snap := room.Snapshot()
	for side, paddle := range snap.Paddles {
		assert.GreaterOrEqual(t, paddle.Y, 0, "paddle %s below range", side)
		assert.LessOrEqual(t, paddle.Y, maxY, "paddle %s above range", side)
	}
}

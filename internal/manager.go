package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Broadcaster 房間連接的投遞與清理介面
//
// 由 WebSocketHub 實現；管理器與模擬循環只依賴這個介面，
// 測試時可注入假實現。Broadcast 把序列化後的消息送到房間內
// 所有已註冊的連接；CloseRoom 在房間銷毀時關閉並註銷該房間
// 的所有連接——閒置回收的房間可能仍有掛著的連接，心跳會讓
// 它們無限期存活，必須由銷毀路徑顯式清理。
type Broadcaster interface {
	Broadcast(roomID string, message []byte)
	CloseRoom(roomID string)
}

// Manager 房間管理器
//
// 系統設計考量：
//
//  1. 房間表（map + RWMutex）：
//     管理器獨占擁有 roomID -> Room 的映射。表鎖只保護映射本身，
//     房間內部狀態由各房間自己的鎖保護——跨房間完全獨立，
//     避免單一全局鎖成為吞吐瓶頸。
//
//  2. 惰性生命週期：
//     首位玩家加入未知 roomID 時創建房間並啟動模擬循環；
//     最後一位玩家離開時立即銷毀（移出表、關閉 done channel）。
//     不存在「先建房再加入」的 API，生命週期完全由連接驅動。
//
//  3. 閒置回收（reapLoop）：
//     有玩家連著但從不操作的房間不會因「非空」而永久存活。
//     定期掃描非進行中且長時間無操作的房間並銷毀，
//     防止長時間運行下的內存洩漏。
type Manager struct {
	rooms       map[string]*Room // roomID -> Room
	mu          sync.RWMutex
	broadcaster Broadcaster
	logger      *slog.Logger

	tickInterval time.Duration
	idleTimeout  time.Duration
	reapInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager 創建房間管理器並啟動閒置回收循環
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	m := &Manager{
		rooms:        make(map[string]*Room),
		logger:       logger,
		tickInterval: cfg.TickInterval(),
		idleTimeout:  cfg.Game.IdleRoomTimeout,
		reapInterval: cfg.Game.ReapInterval,
		stopCh:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// SetBroadcaster 注入廣播器
//
// Hub 依賴 Manager，Manager 的循環又需要透過 Hub 廣播，
// 用 setter 打破構造順序的循環依賴。未注入時廣播是空操作
//（單元測試可以只測管理器）。
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcaster = b
}

// Join 玩家加入房間（roomID 未知時創建房間並啟動模擬循環）
//
// 玩家在表鎖內被加進房間：銷毀路徑（destroyRoomIf）同樣在
// 表鎖內複查佔用情況，所以加入不可能落在一個剛被移出表、
// 循環已取消的房間上。鎖序固定為表鎖 -> 房間鎖。
func (m *Manager) Join(roomID, playerID string) (*Room, Role) {
	m.mu.Lock()
	room, exists := m.rooms[roomID]
	if !exists {
		room = NewRoom(roomID)
		m.rooms[roomID] = room

		// 每個房間一個模擬循環 goroutine
		m.wg.Add(1)
		go m.runLoop(room)
	}
	role := room.Join(playerID)
	m.mu.Unlock()

	if !exists {
		m.logger.Info("房間已創建", "room_id", roomID)
	}
	m.logger.Info("玩家加入房間",
		"room_id", roomID,
		"player_id", playerID,
		"role", role,
		"players", room.PlayerCount(),
		"active", room.IsActive())

	return room, role
}

// Leave 玩家離開房間
//
// 對局無條件暫停；玩家集合清空時銷毀房間（移出表並關閉取消
// 信號，模擬循環隨即退出）。
func (m *Manager) Leave(roomID, playerID string) {
	room, err := m.GetRoom(roomID)
	if err != nil {
		return
	}

	remaining, existed := room.Leave(playerID)
	if !existed {
		return
	}

	m.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_id", playerID,
		"remaining", remaining)

	if remaining == 0 {
		// 空房複查在表鎖內進行：若此刻有人搶先加入，銷毀被放棄
		m.destroyRoomIf(roomID, func(r *Room) bool { return r.PlayerCount() == 0 })
		return
	}

	// 還有玩家留下：把更新後的狀態推給他們
	m.BroadcastState(room)
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("房間不存在: %s", roomID)
	}
	return room, nil
}

// BroadcastState 序列化房間快照並廣播給房間內所有連接
//
// 廣播是盡力而為的：序列化失敗只記錄日誌，單個連接的發送失敗
// 由 Hub 按接收者隔離吞掉，不會中斷對其他連接的投遞。
func (m *Manager) BroadcastState(room *Room) {
	m.mu.RLock()
	b := m.broadcaster
	m.mu.RUnlock()

	if b == nil {
		return
	}

	message, err := json.Marshal(StateMessage{
		Type:  "game_state",
		State: room.Snapshot(),
	})
	if err != nil {
		m.logger.Error("序列化遊戲狀態失敗", "error", err, "room_id", room.ID)
		return
	}

	b.Broadcast(room.ID, message)
}

// broadcastSnapshot 廣播模擬循環已經拿到的快照（避免重複取鎖）
func (m *Manager) broadcastSnapshot(roomID string, snap Snapshot) {
	m.mu.RLock()
	b := m.broadcaster
	m.mu.RUnlock()

	if b == nil {
		return
	}

	message, err := json.Marshal(StateMessage{Type: "game_state", State: snap})
	if err != nil {
		m.logger.Error("序列化遊戲狀態失敗", "error", err, "room_id", roomID)
		return
	}

	b.Broadcast(roomID, message)
}

// destroyRoomIf 在表鎖內複查條件後銷毀房間
//
// 條件複查與 Join 互斥（Join 在表鎖內把玩家加進房間），所以
// 「房間被移出表」與「房間剛獲得玩家」不可能交錯。銷毀時發出
// 取消信號（模擬循環退出）並讓廣播器關閉該房間的所有連接。
func (m *Manager) destroyRoomIf(roomID string, cond func(*Room) bool) bool {
	m.mu.Lock()
	room, exists := m.rooms[roomID]
	if !exists || !cond(room) {
		m.mu.Unlock()
		return false
	}
	delete(m.rooms, roomID)
	b := m.broadcaster
	m.mu.Unlock()

	room.Close()
	if b != nil {
		b.CloseRoom(roomID)
	}
	m.logger.Info("房間已銷毀", "room_id", roomID)
	return true
}

// ListRooms 列出所有房間的摘要（供 REST 觀測端點使用）
func (m *Manager) ListRooms() []map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	result := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		snap := room.Snapshot()
		result = append(result, map[string]any{
			"room_id":   room.ID,
			"players":   snap.Players,
			"scores":    snap.Scores,
			"is_active": snap.IsActive,
		})
	}
	return result
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	totalPlayers := 0
	activeRooms := 0
	for _, room := range rooms {
		totalPlayers += room.PlayerCount()
		if room.IsActive() {
			activeRooms++
		}
	}

	return map[string]any{
		"total_rooms":   len(rooms),
		"active_rooms":  activeRooms,
		"total_players": totalPlayers,
	}
}

// reapLoop 定期回收閒置房間
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.stopCh:
			return
		}
	}
}

// Reap 執行一次閒置回收（公開方法供測試使用）
func (m *Manager) Reap() {
	m.reap()
}

// reap 掃描並銷毀閒置過期的房間
//
// 過期判斷在銷毀時於表鎖內複查：掃描與銷毀之間加入的玩家會
// 刷新活躍時間，複查失敗則放棄回收。
func (m *Manager) reap() {
	m.mu.RLock()
	var expired []string
	for roomID, room := range m.rooms {
		if room.IsExpired(m.idleTimeout) {
			expired = append(expired, roomID)
		}
	}
	m.mu.RUnlock()

	for _, roomID := range expired {
		if m.destroyRoomIf(roomID, func(r *Room) bool { return r.IsExpired(m.idleTimeout) }) {
			m.logger.Info("閒置房間已回收", "room_id", roomID)
		}
	}
}

// Stop 停止管理器：銷毀所有房間並等待所有循環退出
func (m *Manager) Stop() {
	close(m.stopCh)

	m.mu.Lock()
	for roomID, room := range m.rooms {
		room.Close()
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("房間管理器已停止")
}

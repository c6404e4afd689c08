package internal

import (
	"sort"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓模擬循環與多個會話處理器安全地共享同一個房間的可變狀態？
//
// 核心挑戰：
//   1. 並發控制：循環每 tick 改球與比分，會話隨時改球拍與啟動旗標
//   2. 生命週期：首位玩家加入時創建，最後一位離開時銷毀
//   3. 角色分配：只有兩個球拍位，額外的加入者如何處理
//   4. 取消信號：房間銷毀時模擬循環必須確定性地退出
//
// 設計方案：
//   ✅ 每房間一把 RWMutex - 房間之間完全獨立，無全局鎖
//   ✅ done channel + sync.Once - 顯式取消信號，循環 select 等待
//   ✅ 觀戰者語義 - 超過兩人的加入者收廣播但輸入被忽略
//   ✅ 閒置過期 - 非進行中且長時間無操作的房間由管理器回收

// Role 玩家在房間中的角色
//
// 前兩位加入者依序取得 player1 / player2 球拍位；之後的加入者
// 成為觀戰者：出現在玩家列表、收到所有廣播，但輸入被靜默忽略。
type Role string

const (
	RolePlayer1   Role = "player1"
	RolePlayer2   Role = "player2"
	RoleSpectator Role = "spectator"
)

// Side 轉換角色為球拍方；觀戰者沒有球拍位
func (r Role) Side() (Side, bool) {
	switch r {
	case RolePlayer1:
		return SidePlayer1, true
	case RolePlayer2:
		return SidePlayer2, true
	default:
		return "", false
	}
}

// Snapshot 房間狀態的可序列化視圖
//
// 每次廣播都是完整狀態推送（非增量），客戶端必須容忍重複/重疊的快照。
// 欄位名與客戶端協議位元級一致。
type Snapshot struct {
	Ball      Ball            `json:"ball"`
	Paddles   map[Side]Paddle `json:"paddles"`
	Scores    map[Side]int    `json:"scores"`
	Obstacles []Obstacle      `json:"obstacles"`
	IsActive  bool            `json:"is_active"`
	Players   []string        `json:"players"`
}

// StateMessage 出站消息信封
type StateMessage struct {
	Type  string   `json:"type"`
	State Snapshot `json:"state"`
}

// Room 遊戲房間
//
// 系統設計考量：
//
//  1. 同步紀律（單一 RWMutex）：
//     模擬循環（改球、碰撞翻轉、比分）與會話處理器（改球拍、
//     is_active、玩家集合）都經過同一把鎖，一個 tick 內的欄位
//     更新不會被交錯觀察到。房間之間互不相關，沒有跨房間的鎖。
//
//  2. 取消信號（done channel）：
//     管理器把房間移出房間表時關閉 done，模擬循環 select 到
//     之後退出。相比輪詢房間表，信號是顯式、即時且只觸發一次的
//     （sync.Once 保護）。
//
//  3. 活躍度追蹤（lastActive）：
//     加入、移動球拍、啟動都會刷新。閒置回收只針對「非進行中」
//     的房間，進行中的對局永遠不會被回收。
type Room struct {
	ID   string
	Game *GameState

	players  map[string]Role // playerID -> 角色
	isActive bool

	lastActive time.Time

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewRoom 創建新房間
//
// 初始狀態：球置中速度 (+5,+5)、球拍垂直置中、比分歸零、
// 兩個隨機障礙物、is_active=false、玩家集合為空。
func NewRoom(id string) *Room {
	return &Room{
		ID:         id,
		Game:       NewGameState(),
		players:    make(map[string]Role),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// Join 加入玩家並分配角色
//
// 角色分配規則：
//   - 同一 playerID 重複加入視為重連，保留原角色（冪等）
//   - player1 位空缺則取得 player1，其次 player2，否則為觀戰者
//   - 兩個球拍位都被佔用的瞬間，對局自動開始（is_active=true）；
//     觀戰者加入不影響啟動
func (r *Room) Join(playerID string) Role {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 重連：保留原角色
	if role, exists := r.players[playerID]; exists {
		r.lastActive = time.Now()
		return role
	}

	role := RoleSpectator
	if !r.sideTaken(RolePlayer1) {
		role = RolePlayer1
	} else if !r.sideTaken(RolePlayer2) {
		role = RolePlayer2
	}
	r.players[playerID] = role

	// 兩個球拍位到齊，對局開始
	if r.sideTaken(RolePlayer1) && r.sideTaken(RolePlayer2) {
		r.isActive = true
	}

	r.lastActive = time.Now()
	return role
}

// sideTaken 檢查球拍位是否已被佔用（需持有鎖）
func (r *Room) sideTaken(role Role) bool {
	for _, taken := range r.players {
		if taken == role {
			return true
		}
	}
	return false
}

// Leave 移除玩家
//
// 持有球拍位的玩家離開時對局無條件暫停（is_active=false）——
// 即使剩下一位玩家也一樣；觀戰者的來去與加入和輸入一致，
// 不影響進行中的對局。返回剩餘玩家數，由管理器決定是否銷毀
// 房間。
func (r *Room) Leave(playerID string) (remaining int, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, exists := r.players[playerID]
	if !exists {
		return len(r.players), false
	}

	delete(r.players, playerID)
	if role != RoleSpectator {
		r.isActive = false
	}
	r.lastActive = time.Now()
	return len(r.players), true
}

// MovePaddle 處理 paddle_move 輸入
//
// 過濾規則：
//   - 發送者必須是房間內的玩家（觀戰者與陌生人的輸入靜默忽略）
//   - 範圍外的 y 靜默丟棄（由 GameState 驗證）
//   - 消息中的 player 欄位指定要移動的球拍；不與發送者的球拍位
//     比對，範圍鉗制之外的輸入驗證屬於非目標
func (r *Room) MovePaddle(playerID string, side Side, y int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, exists := r.players[playerID]
	if !exists || role == RoleSpectator {
		return false
	}

	if !r.Game.MovePaddle(side, y) {
		return false
	}

	r.lastActive = time.Now()
	return true
}

// Start 處理 start_game 輸入：無條件啟動對局
//
// 觀戰者的啟動請求被忽略。
func (r *Room) Start(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, exists := r.players[playerID]
	if !exists || role == RoleSpectator {
		return false
	}

	r.isActive = true
	r.lastActive = time.Now()
	return true
}

// Advance 推進一個 tick
//
// 房間非進行中時是廉價的空操作（返回 ok=false，循環跳過廣播）。
// 進行中時在鎖內完成物理推進並構建快照，保證快照是單一 tick 的
// 一致視圖。
func (r *Room) Advance() (snap Snapshot, scorer Side, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive {
		return Snapshot{}, "", false
	}

	scorer = r.Game.Step()
	return r.snapshotLocked(), scorer, true
}

// Snapshot 獲取房間狀態的一致視圖（用於廣播與 REST 查詢）
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// snapshotLocked 構建快照（需持有鎖）
func (r *Room) snapshotLocked() Snapshot {
	players := make([]string, 0, len(r.players))
	for id := range r.players {
		players = append(players, id)
	}
	sort.Strings(players)

	paddles := make(map[Side]Paddle, len(r.Game.Paddles))
	for side, p := range r.Game.Paddles {
		paddles[side] = *p
	}

	scores := make(map[Side]int, len(r.Game.Scores))
	for side, s := range r.Game.Scores {
		scores[side] = s
	}

	obstacles := make([]Obstacle, len(r.Game.Obstacles))
	copy(obstacles, r.Game.Obstacles)

	return Snapshot{
		Ball:      r.Game.Ball,
		Paddles:   paddles,
		Scores:    scores,
		Obstacles: obstacles,
		IsActive:  r.isActive,
		Players:   players,
	}
}

// IsActive 對局是否進行中
func (r *Room) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isActive
}

// PlayerCount 玩家數量（含觀戰者）
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Role 查詢玩家角色
func (r *Room) Role(playerID string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, exists := r.players[playerID]
	return role, exists
}

// Done 取消信號：房間被銷毀時關閉，模擬循環據此退出
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Close 發出取消信號（可安全地重複調用）
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// IsExpired 檢查房間是否閒置過期
//
// 回收策略：
//   - 進行中的對局永不過期
//   - 非進行中且超過 idleTimeout 無任何操作（加入/移動/啟動）
//     的房間過期——覆蓋「單人房間永不釋放」的洩漏情境
func (r *Room) IsExpired(idleTimeout time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.isActive {
		return false
	}
	return time.Since(r.lastActive) > idleTimeout
}

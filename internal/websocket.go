package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把權威遊戲狀態實時推送給多個客戶端，並在連接抖動下保持一致？
//
// 核心挑戰：
//   1. 實時通信：60 Hz 的狀態快照必須低延遲推送
//   2. 連接管理：斷線、同一玩家重連、觀戰者加入
//   3. 心跳機制：檢測死連接（網絡異常、瀏覽器崩潰）
//   4. 失敗隔離：一個死掉的接收者不能拖慢整個房間的廣播
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接，房間級別廣播
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel + 非阻塞發送 - 慢客戶端被跳過而非阻塞廣播

// clientMessage 入站消息
//
// 協議只有兩種類型：
//   - paddle_move：player 指定球拍（player1/player2），y 為目標位置
//   - start_game：無額外欄位，強制開始對局
//
// type 缺失或未知的消息靜默忽略，連接保持打開。
type clientMessage struct {
	Type   string `json:"type"`
	Player Side   `json:"player,omitempty"`
	Y      int    `json:"y,omitempty"`
}

// WebSocketHub WebSocket 連接中心
//
// Hub 模式設計：
//   - 兩層映射：roomID -> playerID -> Connection，快速定位房間與玩家
//   - 廣播遍歷註冊表的時間點視圖，與註冊/註銷並發安全
//   - 發送失敗只跳過該接收者，不從註冊表移除（移除只發生在
//     顯式的斷線清理路徑）
type WebSocketHub struct {
	manager     *Manager
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[string]map[string]*Connection // roomID -> playerID -> Connection
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	sendBuffer   int
}

// Connection 單個玩家的 WebSocket 連接
type Connection struct {
	// ID 連接實例標識：同一玩家重連時用於區分新舊連接，
	// 避免舊連接退出時誤清理新連接的註冊
	ID        string
	PlayerID  string
	RoomID    string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	closeOnce sync.Once // 確保 Send channel 只關閉一次
}

// NewWebSocketHub 創建 WebSocket Hub
//
// 跨域策略：只允許配置的來源建立連接。AllowedOrigin 為 "*" 時
// 放行所有來源；沒有 Origin 頭的請求（非瀏覽器客戶端）放行。
func NewWebSocketHub(manager *Manager, cfg *Config, logger *slog.Logger) *WebSocketHub {
	allowedOrigin := cfg.WebSocket.AllowedOrigin

	hub := &WebSocketHub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowedOrigin == "*" {
					return true
				}
				return origin == allowedOrigin
			},
		},
		connections:  make(map[string]map[string]*Connection),
		pingInterval: cfg.WebSocket.PingInterval,
		pongTimeout:  cfg.WebSocket.PongTimeout,
		writeTimeout: cfg.WebSocket.WriteTimeout,
		sendBuffer:   cfg.WebSocket.SendBuffer,
	}

	// 管理器的模擬循環透過 Hub 廣播
	manager.SetBroadcaster(hub)

	return hub
}

// ServeWS 處理 WebSocket 連接
//
// 會話流程：
//  1. 從路徑取得 (room_id, player_id)
//  2. 透過管理器加入房間（未知房間在此惰性創建並啟動模擬循環）
//  3. 升級連接、註冊到 Hub、啟動讀寫 goroutine
//  4. 立即廣播當前快照——遲到的加入者與既有玩家看到一致的狀態
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.Error(w, "缺少房間 ID", http.StatusBadRequest)
		return
	}

	playerID := r.PathValue("player_id")
	if playerID == "" {
		http.Error(w, "缺少玩家 ID", http.StatusBadRequest)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	room, role := hub.manager.Join(roomID, playerID)

	connection := &Connection{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		RoomID:   roomID,
		Conn:     conn,
		Send:     make(chan []byte, hub.sendBuffer),
		Hub:      hub,
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	// 廣播初始狀態（在註冊之後，加入者本人也會收到）
	hub.manager.BroadcastState(room)

	hub.logger.Info("WebSocket 連接建立",
		"room_id", roomID,
		"player_id", playerID,
		"role", role,
		"conn_id", connection.ID)
}

// register 註冊連接
//
// 同一玩家重連時替換舊連接：舊的 Send channel 關閉、底層連接
// 關閉，舊 readPump 退出時因為註冊表中已不是自己而不會觸發
// 玩家離開。
func (hub *WebSocketHub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.connections[conn.RoomID] == nil {
		hub.connections[conn.RoomID] = make(map[string]*Connection)
	}

	if oldConn, exists := hub.connections[conn.RoomID][conn.PlayerID]; exists {
		hub.logger.Info("替換重連的舊連接",
			"room_id", conn.RoomID,
			"player_id", conn.PlayerID,
			"old_conn_id", oldConn.ID,
			"new_conn_id", conn.ID)
		oldConn.closeOnce.Do(func() {
			close(oldConn.Send)
		})
		oldConn.Conn.Close()
	}

	hub.connections[conn.RoomID][conn.PlayerID] = conn
}

// unregister 取消註冊連接
//
// 返回是否確實移除了這個連接實例：被重連替換掉的舊連接退出時
// 註冊表中已是新連接，此時返回 false，調用方不應觸發玩家離開。
func (hub *WebSocketHub) unregister(conn *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	roomConns, exists := hub.connections[conn.RoomID]
	if !exists {
		return false
	}

	actual, exists := roomConns[conn.PlayerID]
	if !exists || actual.ID != conn.ID {
		return false
	}

	delete(roomConns, conn.PlayerID)
	conn.closeOnce.Do(func() {
		close(conn.Send)
	})

	if len(roomConns) == 0 {
		delete(hub.connections, conn.RoomID)
	}
	return true
}

// Broadcast 廣播消息到房間內所有連接（實現 Broadcaster）
//
// 先在讀鎖下取得連接的時間點視圖，再逐一非阻塞發送：
//   - 緩衝區滿（慢客戶端/死連接）則跳過該接收者並記錄，
//     不移除註冊（移除只發生在顯式斷線清理），也不影響其他接收者
//   - 與註冊/註銷並發安全
func (hub *WebSocketHub) Broadcast(roomID string, message []byte) {
	hub.mu.RLock()
	conns := make([]*Connection, 0, len(hub.connections[roomID]))
	for _, conn := range hub.connections[roomID] {
		conns = append(conns, conn)
	}
	hub.mu.RUnlock()

	for _, conn := range conns {
		select {
		case conn.Send <- message:
		default:
			hub.logger.Warn("連接緩衝區滿，跳過本次投遞",
				"room_id", roomID,
				"player_id", conn.PlayerID,
				"conn_id", conn.ID)
		}
	}
}

// CloseRoom 關閉並註銷房間的所有連接（實現 Broadcaster）
//
// 房間銷毀（最後一位離開或閒置回收）時由管理器調用。回收的
// 房間可能仍有掛著的連接——心跳會讓它們無限期存活、同名房間
// 重建後還會收到新房間的廣播——必須在這裡一併關閉。被關閉的
// 連接其 readPump 退出時房間已不在註冊表，不會再觸發玩家離開。
func (hub *WebSocketHub) CloseRoom(roomID string) {
	hub.mu.Lock()
	conns := hub.connections[roomID]
	delete(hub.connections, roomID)
	hub.mu.Unlock()

	if len(conns) == 0 {
		return
	}

	for _, conn := range conns {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}

	hub.logger.Info("房間連接已清理",
		"room_id", roomID,
		"connections", len(conns))
}

// Stop 停止 WebSocket Hub：關閉所有連接
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, roomConns := range hub.connections {
		for _, conn := range roomConns {
			conn.closeOnce.Do(func() {
				close(conn.Send)
			})
			conn.Conn.Close()
		}
	}
	hub.connections = make(map[string]map[string]*Connection)
	hub.mu.Unlock()

	hub.logger.Info("WebSocket Hub 已停止")
}

// ConnectionCount 各房間的連接數（供統計端點使用）
func (hub *WebSocketHub) ConnectionCount() map[string]int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	result := make(map[string]int, len(hub.connections))
	for roomID, conns := range hub.connections {
		result[roomID] = len(conns)
	}
	return result
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：60 秒內沒有任何消息（含 Pong）則視為
// 死連接關閉。與 writePump 的 54 秒 Ping 配合，留 6 秒余量。
//
// 退出時走統一的斷線清理路徑：註銷連接、玩家離開房間
// （暫停對局；空房間則銷毀）。傳輸層的讀取錯誤永遠不會向上
// 傳播為 panic。
func (c *Connection) readPump() {
	defer func() {
		if c.Hub.unregister(c) {
			c.Hub.manager.Leave(c.RoomID, c.PlayerID)
		}
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongTimeout)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongTimeout)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"room_id", c.RoomID,
					"player_id", c.PlayerID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：每 54 秒發送一次 Ping。54 而非 60 是為了
// 避開常見代理的 60 秒超時閾值，留 6 秒余量給網絡延遲。
//
// 廣播消息經由緩衝的 Send channel 異步送達這裡，寫入失敗直接
// 退出（readPump 的讀取錯誤會隨之觸發清理）。
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeTimeout)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，嘗試優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.Conn.SetWriteDeadline(deadline); err == nil {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中已排隊的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeTimeout)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
//
// 錯誤分類與處置（都不致命）：
//   - 無法解析 / type 缺失或未知：靜默忽略，連接保持打開
//   - paddle_move 的 player 不是合法枚舉、y 超出範圍、發送者是
//     觀戰者：靜默丟棄，不向發送方報錯
//   - 接受的 paddle_move 與 start_game 除循環的週期廣播外立即
//     再廣播一次
func (c *Connection) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Debug("解析客戶端消息失敗",
			"error", err,
			"room_id", c.RoomID,
			"player_id", c.PlayerID)
		return
	}

	room, err := c.Hub.manager.GetRoom(c.RoomID)
	if err != nil {
		// 房間已被銷毀（例如閒置回收），忽略殘留的輸入
		return
	}

	switch msg.Type {
	case "paddle_move":
		if msg.Player != SidePlayer1 && msg.Player != SidePlayer2 {
			return
		}
		if room.MovePaddle(c.PlayerID, msg.Player, msg.Y) {
			c.Hub.manager.BroadcastState(room)
		}

	case "start_game":
		if room.Start(c.PlayerID) {
			c.Hub.logger.Info("對局手動開始",
				"room_id", c.RoomID,
				"player_id", c.PlayerID)
			c.Hub.manager.BroadcastState(room)
		}

	default:
		c.Hub.logger.Debug("收到未知消息類型",
			"type", msg.Type,
			"room_id", c.RoomID,
			"player_id", c.PlayerID)
	}
}

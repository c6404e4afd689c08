// Package internal 實現了一個服務器權威的實時多人 Pong 遊戲後端。
//
// 系統託管多個互相獨立的雙人對局（房間），每個房間運行一個固定
// 60 Hz 的物理模擬循環，並透過持久的 WebSocket 連接把權威狀態
// 推送給所有連接的客戶端。
//
// # 房間生命週期
//
// 房間完全由連接驅動：
//   - 首位玩家連到未知的 room_id 時創建房間並啟動模擬循環
//   - 前兩位加入者取得球拍位，兩位到齊對局自動開始
//   - 之後的加入者為觀戰者（收廣播、輸入被忽略、來去不影響對局）
//   - 持球拍的玩家斷線，對局無條件暫停
//   - 最後一位玩家離開時房間銷毀，模擬循環經取消信號退出
//   - 長時間閒置的非進行中房間由管理器定期回收
//
// # 併發模型
//
// 每個房間一把讀寫鎖：模擬循環（球、碰撞、比分）與會話處理器
// （球拍、啟動旗標、玩家集合）的讀寫都經過它，房間之間完全
// 獨立，沒有全局鎖。廣播基於連接註冊表的時間點視圖，單個
// 接收者的失敗被隔離吞掉。
//
// # 協議
//
// 連接端點 /ws/{room_id}/{player_id}。入站消息：
//
//	{"type":"paddle_move","player":"player1","y":250}
//	{"type":"start_game"}
//
// 出站消息是完整狀態快照：
//
//	{"type":"game_state","state":{"ball":...,"paddles":...,"scores":...,
//	 "obstacles":...,"is_active":...,"players":[...]}}
//
// 架構分層：
//   - Handler 層：唯讀的 REST 觀測端點
//   - Manager 層：房間表與生命週期
//   - WebSocketHub 層：連接註冊表、廣播、會話處理
//   - Room/GameState 層：權威遊戲狀態與物理
package internal

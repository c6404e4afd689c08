package internal

import "time"

// 系統設計問題：
//   如何為每個房間維持一個固定節奏的實時模擬循環？
//
// 核心挑戰：
//   1. 固定節奏：60 Hz 推進物理，與對局是否進行中無關
//   2. 空轉成本：等待中/暫停中的房間，tick 必須是廉價的空操作
//   3. 確定性退出：房間銷毀時循環不能洩漏
//   4. 失敗隔離：單個連接的廣播失敗不能中斷循環或影響其他連接
//
// 設計方案：
//   ✅ time.Ticker - 固定間隔觸發，不因處理耗時累積漂移
//   ✅ select done channel - 管理器關閉信號後立即退出
//   ✅ 快照在鎖內構建 - 廣播的永遠是單一 tick 的一致視圖

// runLoop 單個房間的模擬循環
//
// 每 tick 的行為：
//   - 房間非進行中：Advance 直接返回，本 tick 不廣播（廉價空轉）
//   - 房間進行中：推進物理（積分、反彈、碰撞、得分）並把完整
//     快照廣播給房間內所有連接
//
// 循環唯一的退出條件是房間的取消信號（最後一位玩家離開或閒置
// 回收時由管理器關閉）。物理與得分是純算術，不會失敗；廣播的
// 失敗由 Hub 按接收者隔離，循環本身永不 panic 退出。
func (m *Manager) runLoop(room *Room) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	m.logger.Debug("模擬循環啟動", "room_id", room.ID, "tick", m.tickInterval)

	for {
		select {
		case <-room.Done():
			m.logger.Debug("模擬循環退出", "room_id", room.ID)
			return

		case <-ticker.C:
			snap, scorer, ok := room.Advance()
			if !ok {
				continue // 對局未進行，空轉
			}

			if scorer != "" {
				m.logger.Info("得分",
					"room_id", room.ID,
					"scorer", scorer,
					"scores", snap.Scores)
			}

			m.broadcastSnapshot(room.ID, snap)
		}
	}
}

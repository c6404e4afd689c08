package internal

import (
	"math/rand/v2"
)

// 系統設計問題：
//   如何在服務器端權威地模擬 Pong 物理，並保證與客戶端渲染的常數完全一致？
//
// 核心挑戰：
//   1. 權威模擬：所有物理計算在服務器端完成，客戶端只負責渲染
//   2. 整數運算：座標與速度使用整數，避免浮點誤差造成客戶端不同步
//   3. 邊界情況：同一 tick 多重碰撞的翻轉順序必須確定
//   4. 隨機生成：障礙物不能擋在中心發球點
//
// 設計方案：
//   ✅ 純函數式 Step - 無鎖、無 IO，由 Room 負責同步
//   ✅ 固定常數 - 與客戶端位元級一致
//   ✅ 拒絕採樣 - 障礙物避開中心排除區

// 遊戲常數（必須與客戶端完全一致）
const (
	CanvasWidth  = 800 // 畫布寬度
	CanvasHeight = 600 // 畫布高度
	PaddleHeight = 100 // 球拍高度
	PaddleWidth  = 20  // 球拍寬度（碰撞判定距離）
	BallSize     = 10  // 球的大小（渲染用）
	ObstacleSize = 30  // 障礙物大小（碰撞判定距離）

	// BallSpeed 發球與重置時的速度大小（單位/tick）
	BallSpeed = 5

	// PaddleOffset 球拍距離邊緣的固定 x 偏移
	PaddleOffset = 50

	// ObstacleCount 每個房間的障礙物數量
	ObstacleCount = 2

	// obstacleExclusion 中心排除區的半寬/半高
	// 障礙物不能落在以畫布中心為中心的 100 單位方框內
	obstacleExclusion = 100
)

// Side 球拍所屬方（同時也是協議中的玩家枚舉）
type Side string

const (
	SidePlayer1 Side = "player1" // 左側
	SidePlayer2 Side = "player2" // 右側
)

// Ball 球的位置與速度
type Ball struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// Paddle 球拍位置（x 為每側固定常數，y 可變）
type Paddle struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Obstacle 障礙物（創建房間時生成一次，之後不變）
type Obstacle struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`
}

// GameState 單個房間的物理狀態
//
// 設計考量：
//   - 純數據結構，不含鎖：同步責任在 Room（單一同步紀律，
//     模擬循環與會話處理器都必須經過 Room 的鎖）
//   - 所有欄位導出：快照序列化與測試都需要直接讀取
type GameState struct {
	Ball      Ball
	Paddles   map[Side]*Paddle
	Scores    map[Side]int
	Obstacles []Obstacle
}

// NewGameState 創建初始物理狀態
//
// 初始配置：
//   - 球在畫布中心，速度 (+5, +5)
//   - 球拍在距左右邊緣 50 的固定 x，垂直置中
//   - 比分歸零
//   - 兩個隨機障礙物（避開中心排除區）
func NewGameState() *GameState {
	return &GameState{
		Ball: Ball{
			X:  CanvasWidth / 2,
			Y:  CanvasHeight / 2,
			DX: BallSpeed,
			DY: BallSpeed,
		},
		Paddles: map[Side]*Paddle{
			SidePlayer1: {X: PaddleOffset, Y: CanvasHeight / 2},
			SidePlayer2: {X: CanvasWidth - PaddleOffset, Y: CanvasHeight / 2},
		},
		Scores: map[Side]int{
			SidePlayer1: 0,
			SidePlayer2: 0,
		},
		Obstacles: generateObstacles(),
	}
}

// generateObstacles 生成障礙物
//
// 採樣策略（拒絕採樣）：
//   - x 均勻取自 [200, 寬-200]，y 均勻取自 [100, 高-100]（含端點）
//   - 落在中心排除區（|x-400| <= 100 且 |y-300| <= 100）則重新採樣
//   - 不設重試上限：排除區遠小於採樣域，機率上必然終止
func generateObstacles() []Obstacle {
	obstacles := make([]Obstacle, 0, ObstacleCount)
	for i := 0; i < ObstacleCount; i++ {
		for {
			x := randRange(200, CanvasWidth-200)
			y := randRange(100, CanvasHeight-100)
			if abs(x-CanvasWidth/2) > obstacleExclusion || abs(y-CanvasHeight/2) > obstacleExclusion {
				obstacles = append(obstacles, Obstacle{X: x, Y: y, Size: ObstacleSize})
				break
			}
		}
	}
	return obstacles
}

// Step 推進一個 tick 的物理模擬
//
// 每 tick 嚴格按以下順序執行：
//  1. 積分：位置加上速度
//  2. 牆壁反彈：y 越過上下邊界翻轉 dy（不做位置修正，球可能超出一個 tick）
//  3. 球拍碰撞：兩個球拍獨立檢查；若同一 tick 兩個都命中，dx 翻轉兩次
//     （淨效果為不變）—— 這是刻意保留的判定行為
//  4. 障礙物碰撞：命中則同時翻轉 dx 與 dy；多個障礙物命中會疊加
//  5. 得分：球越過左邊界 player2 得分，越過右邊界 player1 得分，
//     球重置回中心（向失分方發球）；兩個分支互斥
//
// 返回得分方（若本 tick 無人得分則返回空字串）
func (g *GameState) Step() (scorer Side) {
	// 1. 積分
	g.Ball.X += g.Ball.DX
	g.Ball.Y += g.Ball.DY

	// 2. 牆壁反彈
	if g.Ball.Y <= 0 || g.Ball.Y >= CanvasHeight {
		g.Ball.DY = -g.Ball.DY
	}

	// 3. 球拍碰撞
	for _, paddle := range g.Paddles {
		if abs(g.Ball.X-paddle.X) < PaddleWidth &&
			paddle.Y <= g.Ball.Y && g.Ball.Y <= paddle.Y+PaddleHeight {
			g.Ball.DX = -g.Ball.DX
		}
	}

	// 4. 障礙物碰撞
	for _, obs := range g.Obstacles {
		if abs(g.Ball.X-obs.X) < obs.Size && abs(g.Ball.Y-obs.Y) < obs.Size {
			g.Ball.DX = -g.Ball.DX
			g.Ball.DY = -g.Ball.DY
		}
	}

	// 5. 得分（兩個分支依位置互斥）
	if g.Ball.X <= 0 {
		g.Scores[SidePlayer2]++
		g.resetBall(BallSpeed)
		return SidePlayer2
	} else if g.Ball.X >= CanvasWidth {
		g.Scores[SidePlayer1]++
		g.resetBall(-BallSpeed)
		return SidePlayer1
	}

	return ""
}

// resetBall 得分後重置球到中心，朝失分方發球
func (g *GameState) resetBall(dx int) {
	g.Ball = Ball{
		X:  CanvasWidth / 2,
		Y:  CanvasHeight / 2,
		DX: dx,
		DY: BallSpeed,
	}
}

// MovePaddle 移動球拍
//
// 驗證規則：0 <= y <= 畫布高 - 球拍高，範圍外靜默丟棄（返回 false，
// 不向發送方報錯）
func (g *GameState) MovePaddle(side Side, y int) bool {
	paddle, exists := g.Paddles[side]
	if !exists {
		return false
	}
	if y < 0 || y > CanvasHeight-PaddleHeight {
		return false
	}
	paddle.Y = y
	return true
}

// randRange 均勻取 [min, max] 的整數（含端點）
func randRange(min, max int) int {
	return min + rand.IntN(max-min+1)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

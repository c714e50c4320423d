package game

// BoardSize 棋盤格數（3×3，索引 0-8）
const BoardSize = 9

// WinningTriples 8 條連線
//
//	0 | 1 | 2
//	---------
//	3 | 4 | 5
//	---------
//	6 | 7 | 8
var WinningTriples = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // 橫
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // 直
	{0, 4, 8}, {2, 4, 6}, // 斜
}

// ResultKind 結果類型
type ResultKind string

const (
	ResultOngoing ResultKind = "ongoing" // 尚未分出勝負
	ResultWin     ResultKind = "win"
	ResultDraw    ResultKind = "draw"
	ResultForfeit ResultKind = "forfeit" // 斷線 / 回合超時判負
	ResultTimeout ResultKind = "timeout" // 整局超時，無勝者
)

// Outcome 對局結果
type Outcome struct {
	Kind   ResultKind `json:"result"`
	Winner string     `json:"winner,omitempty"`
	Triple []int      `json:"winning_triple,omitempty"`
}

// Concluded 是否已分出結果
func (o Outcome) Concluded() bool {
	return o.Kind != ResultOngoing && o.Kind != ""
}

// Evaluate 判定勝負
//
// 演算法：
//  1. 依照房間內玩家順序（而非落子順序）檢查每位玩家佔據的格子
//  2. 第一位涵蓋任一連線的玩家獲勝（格子互斥，不可能同時兩人獲勝）
//  3. 無人獲勝且 9 格已滿 → 平手
//  4. 其他情況 → 進行中
//
// 純函數：不修改輸入，相同輸入永遠得到相同結果。
func Evaluate(players []string, claimed map[string][]int) Outcome {
	total := 0
	for _, cells := range claimed {
		total += len(cells)
	}

	for _, player := range players {
		var mask uint16
		for _, cell := range claimed[player] {
			if cell >= 0 && cell < BoardSize {
				mask |= 1 << cell
			}
		}

		for _, triple := range WinningTriples {
			want := uint16(1)<<triple[0] | uint16(1)<<triple[1] | uint16(1)<<triple[2]
			if mask&want == want {
				return Outcome{
					Kind:   ResultWin,
					Winner: player,
					Triple: []int{triple[0], triple[1], triple[2]},
				}
			}
		}
	}

	if total >= BoardSize {
		return Outcome{Kind: ResultDraw}
	}

	return Outcome{Kind: ResultOngoing}
}

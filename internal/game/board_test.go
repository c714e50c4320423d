package game_test

import (
	"testing"

	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
	"github.com/stretchr/testify/assert"
)

// TestEvaluate 測試勝負判定
func TestEvaluate(t *testing.T) {
	players := []string{"alice", "bob"}

	tests := []struct {
		name       string
		claimed    map[string][]int
		wantKind   game.ResultKind
		wantWinner string
		wantTriple []int
	}{
		{
			name:     "empty board",
			claimed:  map[string][]int{},
			wantKind: game.ResultOngoing,
		},
		{
			name:       "top row",
			claimed:    map[string][]int{"alice": {0, 1, 2}, "bob": {3, 4}},
			wantKind:   game.ResultWin,
			wantWinner: "alice",
			wantTriple: []int{0, 1, 2},
		},
		{
			name:       "diagonal in any order",
			claimed:    map[string][]int{"alice": {0, 1, 3}, "bob": {8, 2, 4, 6}},
			wantKind:   game.ResultWin,
			wantWinner: "bob",
			wantTriple: []int{2, 4, 6},
		},
		{
			name:       "column",
			claimed:    map[string][]int{"alice": {1, 4, 7}, "bob": {0, 2}},
			wantKind:   game.ResultWin,
			wantWinner: "alice",
			wantTriple: []int{1, 4, 7},
		},
		{
			name:       "win on the ninth cell is a win not a draw",
			claimed:    map[string][]int{"alice": {0, 2, 3, 7, 6}, "bob": {1, 4, 5, 8}},
			wantKind:   game.ResultWin,
			wantWinner: "alice",
			wantTriple: []int{0, 3, 6},
		},
		{
			name:     "full board draw",
			claimed:  map[string][]int{"alice": {0, 2, 3, 7, 8}, "bob": {1, 4, 5, 6}},
			wantKind: game.ResultDraw,
		},
		{
			name:     "partial board ongoing",
			claimed:  map[string][]int{"alice": {0, 4}, "bob": {8}},
			wantKind: game.ResultOngoing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := game.Evaluate(players, tt.claimed)

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantWinner, out.Winner)
			assert.Equal(t, tt.wantTriple, out.Triple)
		})
	}
}

// TestEvaluate_PlayerOrder 兩人同時成線（不可能出現的輸入）時，依玩家順序判定
func TestEvaluate_PlayerOrder(t *testing.T) {
	claimed := map[string][]int{"alice": {0, 1, 2}, "bob": {6, 7, 8}}

	assert.Equal(t, "alice", game.Evaluate([]string{"alice", "bob"}, claimed).Winner)
	assert.Equal(t, "bob", game.Evaluate([]string{"bob", "alice"}, claimed).Winner)
}

// TestEvaluate_DoesNotMutate 純函數
func TestEvaluate_DoesNotMutate(t *testing.T) {
	claimed := map[string][]int{"alice": {2, 0, 1}, "bob": {4}}

	first := game.Evaluate([]string{"alice", "bob"}, claimed)
	second := game.Evaluate([]string{"alice", "bob"}, claimed)

	assert.Equal(t, first, second)
	assert.Equal(t, []int{2, 0, 1}, claimed["alice"])
	assert.Equal(t, []int{4}, claimed["bob"])
}

// TestOutcome_Concluded 測試結果是否已結束
func TestOutcome_Concluded(t *testing.T) {
	assert.False(t, game.Outcome{}.Concluded())
	assert.False(t, game.Outcome{Kind: game.ResultOngoing}.Concluded())
	assert.True(t, game.Outcome{Kind: game.ResultWin}.Concluded())
	assert.True(t, game.Outcome{Kind: game.ResultDraw}.Concluded())
	assert.True(t, game.Outcome{Kind: game.ResultForfeit}.Concluded())
	assert.True(t, game.Outcome{Kind: game.ResultTimeout}.Concluded())
}

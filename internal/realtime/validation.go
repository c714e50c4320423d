package realtime

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
)

const (
	maxIdentityLength = 100
	maxEmojiLength    = 500
)

// 驗證失敗的訊息
const (
	msgInvalidUserID    = "invalid user id"
	msgInvalidRoomID    = "invalid room id format"
	msgInvalidCellIndex = "cell index must be between 0 and 8"
	msgInvalidEmoji     = "invalid emoji"
)

// Validator 驗證客戶端輸入
//
// 只檢查格式，不檢查對局狀態（格子是否已被佔用等由 game 判斷）。
type Validator struct {
	roomID *regexp.Regexp
}

// NewValidator 依房間 ID 長度建立驗證器
func NewValidator(roomIDLength int) *Validator {
	if roomIDLength <= 0 {
		roomIDLength = game.DefaultRoomIDLength
	}
	return &Validator{
		roomID: regexp.MustCompile(fmt.Sprintf(`^[%s]{%d}$`, game.RoomIDAlphabet, roomIDLength)),
	}
}

// Identity 清理並檢查玩家 ID：去除前後空白、非空、長度上限、不含控制字元
func (v *Validator) Identity(uid string) (string, bool) {
	uid = strings.TrimSpace(uid)
	if uid == "" || utf8.RuneCountInString(uid) > maxIdentityLength {
		return "", false
	}
	for _, r := range uid {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return uid, true
}

// RoomID 檢查房間 ID 格式
func (v *Validator) RoomID(roomID string) (string, bool) {
	roomID = strings.TrimSpace(roomID)
	return roomID, v.roomID.MatchString(roomID)
}

// Cell 檢查格子索引
func (v *Validator) Cell(cell *int) (int, bool) {
	if cell == nil || *cell < 0 || *cell >= game.BoardSize {
		return 0, false
	}
	return *cell, true
}

// Emoji 檢查表情路徑
func (v *Validator) Emoji(emoji string) (string, bool) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return "", false
	}
	return emoji, true
}

// problems 累積驗證錯誤，一次回報所有問題
type problems []string

func (p *problems) check(ok bool, msg string) {
	if !ok {
		*p = append(*p, msg)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return game.NewError(game.CodeInvalidInput, strings.Join(p, ", "))
}

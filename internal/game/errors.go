package game

import (
	"errors"
	"fmt"
)

// 錯誤碼
//
// 分類：
//   - 使用者錯誤（UserError）：預期內的失敗，只回報給發起者，不重試
//   - 內部錯誤（InternalError）：記錄日誌，對外只回傳不透明的伺服器錯誤
const (
	CodeNotYourTurn      = "NOT_YOUR_TURN"
	CodeCellOccupied     = "CELL_OCCUPIED"
	CodeInvalidCell      = "INVALID_CELL"
	CodeRoomFull         = "ROOM_FULL"
	CodeAlreadyJoined    = "ALREADY_JOINED"
	CodeNotInProgress    = "NOT_IN_PROGRESS"
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeDuplicateRequest = "DUPLICATE_REQUEST"
	CodeNoPendingRequest = "NO_PENDING_REQUEST"
	CodeNotCompleted     = "NOT_COMPLETED"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodePlayerBusy       = "PLAYER_BUSY"
	CodeRoomClosing      = "ROOM_CLOSING"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeInternal         = "INTERNAL_ERROR"
)

// AppError 對局引擎錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比較，讓 errors.Is(err, ErrRoomFull) 在包裝後仍然成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError 創建新的錯誤
func NewError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError 包裝底層錯誤
func WrapError(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// 預定義錯誤
var (
	ErrNotYourTurn      = NewError(CodeNotYourTurn, "it is not your turn")
	ErrCellOccupied     = NewError(CodeCellOccupied, "this cell is already occupied")
	ErrInvalidCell      = NewError(CodeInvalidCell, "cell index must be between 0 and 8")
	ErrRoomFull         = NewError(CodeRoomFull, "the room is full, maximum 2 players allowed")
	ErrAlreadyJoined    = NewError(CodeAlreadyJoined, "player already in this room")
	ErrNotInProgress    = NewError(CodeNotInProgress, "game is not in progress")
	ErrRoomNotFound     = NewError(CodeRoomNotFound, "the room you are searching for does not exist")
	ErrDuplicateRequest = NewError(CodeDuplicateRequest, "play again request already sent")
	ErrNoPendingRequest = NewError(CodeNoPendingRequest, "no play again request found")
	ErrNotCompleted     = NewError(CodeNotCompleted, "game is not completed yet")
	ErrNotInRoom        = NewError(CodeNotInRoom, "player is not in this room")
	ErrPlayerBusy       = NewError(CodePlayerBusy, "player is already playing in another room")
	ErrRoomClosing      = NewError(CodeRoomClosing, "the room is closing")
	ErrAlreadyExists    = NewError(CodeAlreadyExists, "room id already exists")
	ErrInternal         = NewError(CodeInternal, "internal server error occurred")
)

// userCodes 屬於使用者錯誤的錯誤碼
var userCodes = map[string]bool{
	CodeNotYourTurn:      true,
	CodeCellOccupied:     true,
	CodeInvalidCell:      true,
	CodeRoomFull:         true,
	CodeAlreadyJoined:    true,
	CodeNotInProgress:    true,
	CodeRoomNotFound:     true,
	CodeDuplicateRequest: true,
	CodeNoPendingRequest: true,
	CodeNotCompleted:     true,
	CodeNotInRoom:        true,
	CodePlayerBusy:       true,
	CodeRoomClosing:      true,
	CodeInvalidInput:     true,
}

// IsUserError 檢查是否為使用者錯誤
func IsUserError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return userCodes[appErr.Code]
	}
	return false
}

// ErrorCode 取得錯誤碼，非 AppError 一律視為內部錯誤
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

package game

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
)

// RoomIDAlphabet 房間 ID 字元集
const RoomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultRoomIDLength 房間 ID 預設長度
const DefaultRoomIDLength = 5

// NewRoomIDGenerator 產生固定長度的房間 ID
func NewRoomIDGenerator(length int) func() string {
	if length <= 0 {
		length = DefaultRoomIDLength
	}
	max := big.NewInt(int64(len(RoomIDAlphabet)))

	return func() string {
		b := make([]byte, length)
		for i := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				// 如果隨機讀取失敗，退回 math/rand
				b[i] = RoomIDAlphabet[mrand.IntN(len(RoomIDAlphabet))]
				continue
			}
			b[i] = RoomIDAlphabet[n.Int64()]
		}
		return string(b)
	}
}

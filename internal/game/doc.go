// Package game 實作兩人井字棋的對局協調引擎。
//
// 組成：
//   - Evaluate：純函數判定勝負、平手
//   - Match：單一房間的對局狀態機（waiting → in_progress → 終局 → reset）
//   - Scheduler：每個房間的回合計時器與整局計時器
//   - Negotiator：再來一局的請求與接受
//   - Registry：房間表、玩家索引、房間鎖，所有對外操作的入口
//
// 併發模型
//
// 同一房間的操作（玩家操作、計時器回調、斷線處理）在房間鎖內串行執行；
// 不同房間之間互不阻塞。計時器觸發的結果透過 Registry.Events() 非同步送出，
// 由傳輸層（internal/realtime）廣播給房間內的連線。
//
// 使用範例
//
//	reg := game.NewRegistry(game.DefaultSettings(), logger)
//	defer reg.Stop()
//
//	roomID, _ := reg.CreateRoom("alice")
//	snap, _ := reg.JoinRoom("bob", roomID) // 人滿自動開局
//	res, err := reg.Move(snap.Turn, roomID, 4)
package game

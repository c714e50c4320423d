// Package matchcoordinator 是雙人井字棋的即時對局協調服務。
//
// 伺服器負責所有規則判定：玩家只送出意圖（建房、加入、落子、再來一局），
// 由伺服器決定是否合法、輪到誰、誰贏，再把結果廣播給房間內的兩位玩家。
//
// # 對局引擎（internal/game）
//
//   - Board：純函式判定勝負或平手（8 條連線）
//   - Match：單一房間的狀態機 waiting → in_progress → completed / abandoned / timed_out
//   - Scheduler：每個房間的回合計時器與整局計時器，過期的計時器不會影響新的一局
//   - Negotiator：再來一局的請求與接受，請求有有效期
//   - Registry：房間 ID 分配、玩家索引、斷線判負、閒置清理
//
// # 傳輸層（internal/realtime）
//
// 單一 WebSocket 端點，訊息格式 {"event": 名稱, "data": {...}}：
//
//	ws := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
//	→ {"event":"create-room","data":{"uid":"alice"}}
//	← {"event":"room-created","data":{"roomId":"aB3xZ"}}
//	→ {"event":"move","data":{"uid":"alice","roomId":"aB3xZ","cellIndex":4}}
//	← {"event":"move-result","data":{"roomId":"aB3xZ","cellIndex":4,"uid":"alice","nextTurn":"bob"}}
//
// 另外提供 GET /health、GET /stats、GET /api/v1/rooms/{room_id}。
//
// # 審計（internal/audit）
//
// 設定 nats.url 後，每次房間廣播都會發布到 <prefix>.<roomId>.<event>。
//
// # 配置選項
//
//   - -config：YAML 配置檔
//   - -port：服務監聽端口（覆蓋配置檔）
//   - MATCH_PORT、MATCH_LOG_LEVEL、MATCH_LOG_FORMAT、MATCH_NATS_URL：環境變數覆蓋，可放在 .env
//
// 狀態只存在記憶體中，單一程序；重啟後所有房間消失。
package matchcoordinator

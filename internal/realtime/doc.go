// Package realtime 是對局引擎的 WebSocket 傳輸層。
//
// Hub 管理連線與房間成員，Dispatcher 把客戶端事件轉成 game.Registry 呼叫，
// Handler 提供健康檢查、統計與房間快照的 HTTP 端點。
//
// 路由：
//
//	GET /ws                      WebSocket（Hub.ServeWS）
//	GET /api/v1/rooms/{room_id}  房間快照
//	GET /health
//	GET /stats
package realtime

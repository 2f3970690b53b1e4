package notification

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// sessionBufferSize は1セッションあたりの送信バッファ数。
// 受信側が詰まった場合、バッファを超えたイベントは破棄される。
const sessionBufferSize = 64

// streamEvent はSSEで送信する1件のイベント。
type streamEvent struct {
	// Name はSSEのイベント名（connected / heartbeat / notification）。
	Name string
	// Data はJSONとして送信されるペイロード。
	Data any
}

// streamPayload はnotificationイベントのペイロード。
// Actionに応じてNotificationまたはNotificationIDのいずれかを持つ。
type streamPayload struct {
	// Action は変更の種類（created / read / deleted / all-read）。
	Action string `json:"action"`
	// Notification はcreatedの場合の通知全体。
	Notification *Notification `json:"notification,omitempty"`
	// NotificationID はread / deletedの場合の対象通知ID。
	NotificationID string `json:"notification_id,omitempty"`
}

// session は1本のSSE接続を表す。
// 送信はすべてchを経由し、ハンドラのゴルーチンだけがレスポンスに書き込む。
type session struct {
	// id はセッションの一意識別子。
	id string
	// userID は接続中のユーザーID。
	userID string
	// ch はハンドラへの送信キュー。
	ch chan streamEvent
}

// newSession は新しいストリームセッションを生成する。
func newSession(userID string) *session {
	return &session{
		id:     uuid.New().String(),
		userID: userID,
		ch:     make(chan streamEvent, sessionBufferSize),
	}
}

// enqueue はイベントを送信キューに積む。
// キューが満杯の場合はブロックせずに破棄し、falseを返す。
// イベント発行元（ストア）を受信の遅いクライアントから保護するため。
func (s *session) enqueue(ev streamEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		log.Printf("[Stream] 送信キューが満杯のためイベントを破棄: session=%s, user=%s, event=%s",
			s.id, s.userID, ev.Name)
		return false
	}
}

// streamHub は接続中の全SSEセッションを管理する。
type streamHub struct {
	// mu はsessionsを保護する。
	mu sync.RWMutex
	// sessions はセッションIDからセッションへのマップ。
	sessions map[string]*session
}

// newStreamHub は新しいストリームハブを生成する。
func newStreamHub() *streamHub {
	return &streamHub{sessions: make(map[string]*session)}
}

// add はセッションをハブに登録する。
func (h *streamHub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

// remove はセッションをハブから削除する。
func (h *streamHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// StreamStats はSSE接続の統計情報。運用時の確認用エンドポイントで返す。
type StreamStats struct {
	// ActiveSessions は接続中のセッション総数。
	ActiveSessions int `json:"active_sessions"`
	// SessionsByUser はユーザーIDごとの接続数。
	SessionsByUser map[string]int `json:"sessions_by_user"`
}

// stats は現在の接続統計を返す。
func (h *streamHub) stats() StreamStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byUser := make(map[string]int)
	for _, s := range h.sessions {
		byUser[s.userID]++
	}
	return StreamStats{
		ActiveSessions: len(h.sessions),
		SessionsByUser: byUser,
	}
}

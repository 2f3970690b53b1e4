package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseEvent はテストで受信した1件のSSEイベント。
type sseEvent struct {
	name string
	data string
}

// connectStream はSSEストリームへ接続し、受信イベントのチャネルを返す。
// 返されたキャンセル関数で接続を切断できる。
func connectStream(t *testing.T, baseURL, userID string) (<-chan sseEvent, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/notifications/stream", nil)
	if err != nil {
		cancel()
		t.Fatalf("リクエストの作成に失敗: %v", err)
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("SSE接続に失敗: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type: got %s, want text/event-stream", ct)
	}

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		reader := bufio.NewReader(resp.Body)
		var ev sseEvent
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if ev.name != "" {
					events <- ev
					ev = sseEvent{}
				}
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events, cancel
}

// waitEvent はチャネルから次のイベントを受信する。タイムアウトでテストを失敗させる。
func waitEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("ストリームが予期せず終了しました")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("イベントの受信がタイムアウトしました")
	}
	return sseEvent{}
}

// decodeData はイベントのデータをmapにデコードするヘルパー関数。
func decodeData(t *testing.T, ev sseEvent) map[string]any {
	t.Helper()

	var result map[string]any
	if err := json.Unmarshal([]byte(ev.data), &result); err != nil {
		t.Fatalf("イベントデータのデコードに失敗: %v, data=%s", err, ev.data)
	}
	return result
}

// TestStreamConnected は接続直後のconnectedイベントのテスト。
func TestStreamConnected(t *testing.T) {
	t.Parallel()

	_, router := setupTestServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	events, _ := connectStream(t, ts.URL, "user-1")

	ev := waitEvent(t, events)
	if ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	data := decodeData(t, ev)
	if data["user_id"] != "user-1" {
		t.Errorf("user_id: got %v, want user-1", data["user_id"])
	}
	if data["session_id"] == "" || data["session_id"] == nil {
		t.Error("session_idが空です")
	}
}

// TestStreamReceivesCreated は通知作成イベントの配信テスト。
func TestStreamReceivesCreated(t *testing.T) {
	t.Parallel()

	s, router := setupTestServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	events, _ := connectStream(t, ts.URL, "user-1")

	// connectedが必ず最初に届く
	if ev := waitEvent(t, events); ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	n1 := createTestNotification(t, s.store, "user-1", TypeIntroductionRequest)
	n2 := createTestNotification(t, s.store, "user-1", TypeIntroductionApproved)

	// 発行順に届く
	for _, want := range []string{n1.ID, n2.ID} {
		ev := waitEvent(t, events)
		if ev.name != "notification" {
			t.Fatalf("イベント名: got %s, want notification", ev.name)
		}

		data := decodeData(t, ev)
		if data["action"] != "created" {
			t.Errorf("action: got %v, want created", data["action"])
		}
		notif, ok := data["notification"].(map[string]any)
		if !ok {
			t.Fatalf("notificationが取得できません: %v", data)
		}
		if notif["id"] != want {
			t.Errorf("notification.id: got %v, want %s", notif["id"], want)
		}
	}
}

// TestStreamFiltersOtherUsers は他ユーザー宛イベントが配信されないことのテスト。
func TestStreamFiltersOtherUsers(t *testing.T) {
	t.Parallel()

	s, router := setupTestServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	events, _ := connectStream(t, ts.URL, "user-1")

	if ev := waitEvent(t, events); ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	// 他ユーザー宛の通知は届かず、自分宛の通知だけが届く
	createTestNotification(t, s.store, "user-2", TypeIntroductionRequest)
	mine := createTestNotification(t, s.store, "user-1", TypeIntroductionRequest)

	ev := waitEvent(t, events)
	data := decodeData(t, ev)
	notif := data["notification"].(map[string]any)
	if notif["id"] != mine.ID {
		t.Errorf("notification.id: got %v, want %s", notif["id"], mine.ID)
	}
	if notif["user_id"] != "user-1" {
		t.Errorf("notification.user_id: got %v, want user-1", notif["user_id"])
	}
}

// TestStreamReceivesMutations は既読・削除・全既読イベントの配信テスト。
func TestStreamReceivesMutations(t *testing.T) {
	t.Parallel()

	s, router := setupTestServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	n := createTestNotification(t, s.store, "user-1", TypeIntroductionRequest)

	events, _ := connectStream(t, ts.URL, "user-1")
	if ev := waitEvent(t, events); ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	if err := s.store.MarkAsRead(testContext(t), n.ID, "user-1"); err != nil {
		t.Fatalf("既読処理に失敗: %v", err)
	}
	data := decodeData(t, waitEvent(t, events))
	if data["action"] != "read" {
		t.Errorf("action: got %v, want read", data["action"])
	}
	if data["notification_id"] != n.ID {
		t.Errorf("notification_id: got %v, want %s", data["notification_id"], n.ID)
	}

	if err := s.store.MarkAllAsRead(testContext(t), "user-1"); err != nil {
		t.Fatalf("全既読処理に失敗: %v", err)
	}
	data = decodeData(t, waitEvent(t, events))
	if data["action"] != "all-read" {
		t.Errorf("action: got %v, want all-read", data["action"])
	}

	if err := s.store.Delete(testContext(t), n.ID, "user-1"); err != nil {
		t.Fatalf("削除に失敗: %v", err)
	}
	data = decodeData(t, waitEvent(t, events))
	if data["action"] != "deleted" {
		t.Errorf("action: got %v, want deleted", data["action"])
	}
	if data["notification_id"] != n.ID {
		t.Errorf("notification_id: got %v, want %s", data["notification_id"], n.ID)
	}
}

// TestStreamHeartbeat はハートビート送信のテスト。
func TestStreamHeartbeat(t *testing.T) {
	t.Parallel()

	s, router := setupTestServer(t)
	s.heartbeatInterval = 100 * time.Millisecond
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	events, _ := connectStream(t, ts.URL, "user-1")

	if ev := waitEvent(t, events); ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	ev := waitEvent(t, events)
	if ev.name != "heartbeat" {
		t.Fatalf("イベント名: got %s, want heartbeat", ev.name)
	}
	data := decodeData(t, ev)
	if data["timestamp"] == nil || data["timestamp"] == "" {
		t.Error("timestampが空です")
	}
}

// TestStreamCleanupOnDisconnect は切断時の購読解除とセッション削除のテスト。
func TestStreamCleanupOnDisconnect(t *testing.T) {
	t.Parallel()

	s, router := setupTestServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	events, cancel := connectStream(t, ts.URL, "user-1")

	if ev := waitEvent(t, events); ev.name != "connected" {
		t.Fatalf("最初のイベント: got %s, want connected", ev.name)
	}

	if got := s.bus.ListenerCount(EventCreated); got != 1 {
		t.Errorf("ListenerCount: got %d, want 1", got)
	}
	if got := s.hub.stats().ActiveSessions; got != 1 {
		t.Errorf("ActiveSessions: got %d, want 1", got)
	}

	cancel()

	// ハンドラの終了処理は非同期に走るため、完了まで待つ
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.bus.ListenerCount(EventCreated) == 0 && s.hub.stats().ActiveSessions == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("切断後も購読が残っています: listeners=%d, sessions=%d",
		s.bus.ListenerCount(EventCreated), s.hub.stats().ActiveSessions)
}

package notifyclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/introhub/internal/notification"
	"github.com/nao1215/introhub/pkg/httpclient"
)

// Status はストリーム接続の状態を表す。
type Status string

const (
	// StatusDisconnected は未接続の状態。
	StatusDisconnected Status = "disconnected"
	// StatusConnecting は初回接続を試みている状態。
	StatusConnecting Status = "connecting"
	// StatusConnected は接続済みの状態。
	StatusConnected Status = "connected"
	// StatusReconnecting は切断後に再接続を試みている状態。
	StatusReconnecting Status = "reconnecting"
	// StatusError は回復不能なエラーで停止した状態。再接続は行わない。
	StatusError Status = "error"
)

// 回復不能な接続エラー。これらが発生した場合は再接続しない。
var (
	// errAuthRejected は認証が拒否されたことを表す。
	errAuthRejected = errors.New("認証が拒否されました")
	// errUnsupportedTransport はサーバーがSSEに対応していないことを表す。
	errUnsupportedTransport = errors.New("サーバーがSSEに対応していません")
)

// defaultRetryDelays は再接続の待機時間。接続に成功するとリセットされる。
var defaultRetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// defaultPageSize は再取得時に要求する1ページあたりの件数。
const defaultPageSize = 50

// Manager はSSEストリームへの接続とローカルキャッシュの同期を管理する。
// 1つのManagerは1ユーザーの接続を表す。
type Manager struct {
	// client は操作API呼び出し用のHTTPクライアント。
	client *httpclient.Client
	// streamClient はSSE接続用のHTTPクライアント。タイムアウトを設定しない。
	streamClient *http.Client
	// baseURL は接続先サーバーのベースURL。
	baseURL string
	// token は認証用のJWT。
	token string
	// cache は受信イベントの反映先。
	cache *Cache
	// retryDelays は再接続の待機時間。
	retryDelays []time.Duration
	// pageSize は再取得時に要求する件数。
	pageSize int

	// mu はstatus / cancel / done / onStatus / lastHeartbeatを保護する。
	mu sync.Mutex
	// status は現在の接続状態。
	status Status
	// cancel は接続ループの停止用。
	cancel context.CancelFunc
	// done は接続ループの終了通知。
	done chan struct{}
	// onStatus は状態変化時に呼び出されるコールバック。
	onStatus func(Status)
	// lastHeartbeat は最後にハートビートを受信した時刻。
	lastHeartbeat time.Time
}

// New は新しいストリームマネージャーを生成する。
func New(baseURL, token string) *Manager {
	client := httpclient.New(baseURL)
	client.SetAuthToken(token)

	return &Manager{
		client:       client,
		streamClient: &http.Client{},
		baseURL:      baseURL,
		token:        token,
		cache:        NewCache(),
		retryDelays:  defaultRetryDelays,
		pageSize:     defaultPageSize,
		status:       StatusDisconnected,
	}
}

// Cache はローカルキャッシュを返す。
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Status は現在の接続状態を返す。
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatusChange は状態変化時のコールバックを設定する。
// コールバックは接続ループのゴルーチンから呼び出される。
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// LastHeartbeat は最後にハートビートを受信した時刻を返す。
// 一度も受信していない場合はゼロ値を返す。
func (m *Manager) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}

// setStatus は状態を変更し、変化があればコールバックを呼び出す。
func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	fn := m.onStatus
	m.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

// Start はSSEストリームへの接続を開始する。
// 既に接続中の場合は何もしない。切断時は指数バックオフで再接続する。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx)
	}()
}

// Stop は接続を切断し、接続ループの終了を待つ。
// 接続していない場合は何もしない。
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	// 回復不能なエラーで停止していた場合はerrorのままにする
	if m.Status() != StatusError {
		m.setStatus(StatusDisconnected)
	}
}

// run は接続ループ。切断されるたびにバックオフして再接続する。
func (m *Manager) run(ctx context.Context) {
	attempt := 0
	first := true
	for {
		if first {
			m.setStatus(StatusConnecting)
		} else {
			m.setStatus(StatusReconnecting)
		}
		first = false

		connected, err := m.connectAndStream(ctx)
		if errors.Is(err, errAuthRejected) || errors.Is(err, errUnsupportedTransport) {
			log.Printf("[NotifyClient] 回復不能なエラーのため停止: %v", err)
			m.setStatus(StatusError)
			return
		}
		if ctx.Err() != nil {
			m.setStatus(StatusDisconnected)
			return
		}
		if err != nil {
			log.Printf("[NotifyClient] ストリーム接続エラー: %v", err)
		}

		// 一度でも接続できていたらバックオフをやり直す
		if connected {
			attempt = 0
		}

		delay := m.retryDelays[min(attempt, len(m.retryDelays)-1)]
		attempt++

		select {
		case <-ctx.Done():
			m.setStatus(StatusDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// connectAndStream はSSEストリームへ接続し、切断されるまでイベントを処理する。
// 戻り値のconnectedは接続の確立に成功したかどうかを表す。
func (m *Manager) connectAndStream(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.baseURL+"/api/v1/notifications/stream", nil)
	if err != nil {
		return false, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.streamClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("SSE接続に失敗: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, errAuthRejected
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("SSE接続に失敗: status=%d", resp.StatusCode)
	case !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"):
		return false, errUnsupportedTransport
	}

	m.setStatus(StatusConnected)

	// 切断中に取りこぼしたイベントを補うため、接続のたびに全体を取得し直す
	if err := m.Refresh(ctx); err != nil {
		log.Printf("[NotifyClient] キャッシュの再取得に失敗: %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return true, nil
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if name != "" {
				m.handleEvent(name, data)
			}
			name, data = "", ""
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

// streamPayload はnotificationイベントのペイロード。
type streamPayload struct {
	// Action は変更の種類（created / read / deleted / all-read）。
	Action string `json:"action"`
	// Notification はcreatedの場合の通知全体。
	Notification *notification.Notification `json:"notification"`
	// NotificationID はread / deletedの場合の対象通知ID。
	NotificationID string `json:"notification_id"`
}

// handleEvent は受信したSSEイベントをキャッシュへ反映する。
// heartbeatは受信時刻のみ記録し、connectedは読み捨てる。
func (m *Manager) handleEvent(name, data string) {
	if name == "heartbeat" {
		m.mu.Lock()
		m.lastHeartbeat = time.Now()
		m.mu.Unlock()
		return
	}
	if name != "notification" {
		return
	}

	var payload streamPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		log.Printf("[NotifyClient] イベントのデコードに失敗: %v, data=%s", err, data)
		return
	}

	switch payload.Action {
	case "created":
		if payload.Notification != nil {
			m.cache.ApplyCreated(*payload.Notification)
		}
	case "read":
		m.cache.ApplyRead(payload.NotificationID)
	case "deleted":
		m.cache.ApplyDeleted(payload.NotificationID)
	case "all-read":
		m.cache.ApplyAllRead()
	default:
		log.Printf("[NotifyClient] 未知のアクション: %s", payload.Action)
	}
}

// Refresh はサーバーから通知一覧と未読数を取得し、キャッシュを置き換える。
func (m *Manager) Refresh(ctx context.Context) error {
	var page notification.Page
	path := fmt.Sprintf("/api/v1/notifications?page=1&page_size=%d", m.pageSize)
	if err := m.client.GetJSON(ctx, path, &page); err != nil {
		return fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	var count notification.UnreadCount
	if err := m.client.GetJSON(ctx, "/api/v1/notifications/unread-count", &count); err != nil {
		return fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}

	m.cache.Replace(page.Data, page.Pagination, count.Count)
	return nil
}

// MarkAsRead は通知を既読にし、キャッシュへ即時反映する。
// サーバーからも同じイベントが届くが、キャッシュへの適用は冪等なため問題ない。
func (m *Manager) MarkAsRead(ctx context.Context, id string) error {
	if err := m.client.PutJSON(ctx, "/api/v1/notifications/"+id+"/read", nil, nil); err != nil {
		return err
	}
	m.cache.ApplyRead(id)
	return nil
}

// MarkAllAsRead は全通知を既読にし、キャッシュへ即時反映する。
func (m *Manager) MarkAllAsRead(ctx context.Context) error {
	if err := m.client.PutJSON(ctx, "/api/v1/notifications/read-all", nil, nil); err != nil {
		return err
	}
	m.cache.ApplyAllRead()
	return nil
}

// Delete は通知を削除し、キャッシュへ即時反映する。
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.client.DeleteJSON(ctx, "/api/v1/notifications/"+id, nil); err != nil {
		return err
	}
	m.cache.ApplyDeleted(id)
	return nil
}

// DeleteAllRead は既読通知をすべて削除し、キャッシュへ即時反映する。
func (m *Manager) DeleteAllRead(ctx context.Context) error {
	if err := m.client.DeleteJSON(ctx, "/api/v1/notifications/read", nil); err != nil {
		return err
	}
	m.cache.ApplyDeleteAllRead()
	return nil
}

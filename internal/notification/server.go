package notification

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/introhub/pkg/bus"
	"github.com/nao1215/introhub/pkg/middleware"
)

// defaultHeartbeatInterval はSSEハートビートの既定送信間隔。
const defaultHeartbeatInterval = 30 * time.Second

// Server は通知APIのハンドラ群。ゲートウェイのルーターにマウントされる。
type Server struct {
	// store は通知の永続化層。
	store *Store
	// bus はSSEセッションが購読するイベントバス。
	bus *bus.Bus
	// hub は接続中のSSEセッションの管理。
	hub *streamHub
	// heartbeatInterval はハートビートの送信間隔。
	heartbeatInterval time.Duration
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(store *Store, b *bus.Bus) *Server {
	return &Server{
		store:             store,
		bus:               b,
		hub:               newStreamHub(),
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// RegisterRoutes は認証済みルートグループに通知APIを登録する。
func (s *Server) RegisterRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知一覧取得（ページネーション付き）
		notifications.GET("", s.handleList())
		// 未読通知数取得
		notifications.GET("/unread-count", s.handleUnreadCount())
		// SSEストリーム接続
		notifications.GET("/stream", s.handleStream())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllAsRead())
		// 既読通知の一括削除
		notifications.DELETE("/read", s.handleDeleteAllRead())
		// 通知削除
		notifications.DELETE("/:id", s.handleDelete())
	}
}

// RegisterInternalRoutes は内部APIルートグループに通知APIを登録する。
// サービス間通信用で、外部には公開しない。
func (s *Server) RegisterInternalRoutes(internal *gin.RouterGroup) {
	// 通知作成（リクエストワークフローから呼び出される）
	internal.POST("/notifications", s.handleInternalCreate())
	// SSE接続の統計情報
	internal.GET("/stream/stats", s.handleStreamStats())
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
// クエリパラメータ: page（1始まり）、page_size、unread_only。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pageが不正です"})
			return
		}
		pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
		if err != nil || pageSize < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page_sizeが不正です"})
			return
		}
		unreadOnly := c.Query("unread_only") == "true"

		result, err := s.store.List(c.Request.Context(), userID, page, pageSize, unreadOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// handleUnreadCount は認証済みユーザーの未読通知数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.store.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知数の取得に失敗しました"})
			log.Printf("未読通知数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, count)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.MarkAsRead(c.Request.Context(), c.Param("id"), userID); err != nil {
			s.writeStoreError(c, err, "通知の既読処理に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.MarkAllAsRead(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
			s.writeStoreError(c, err, "通知の削除に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// handleDeleteAllRead は認証済みユーザーの既読通知をすべて削除するハンドラ。
func (s *Server) handleDeleteAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		deleted, err := s.store.DeleteAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "既読通知の削除に失敗しました"})
			log.Printf("既読通知削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
	}
}

// writeStoreError はストアのエラーをHTTPステータスコードに変換して返す。
func (s *Server) writeStoreError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
		log.Printf("通知ストアエラー: %v", err)
	}
}

// createRequest は内部API経由の通知作成リクエストのJSON構造。
type createRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Type は通知の種類。
	Type Type `json:"type" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// RelatedRequestID は関連する紹介リクエストのID（任意）。
	RelatedRequestID *string `json:"related_request_id"`
}

// handleInternalCreate は通知を作成するハンドラ。
// 内部API（リクエストワークフローなどのサービスから呼び出される）。
func (s *Server) handleInternalCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if !req.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知の種類が不正です"})
			return
		}

		n, err := s.store.Create(c.Request.Context(), CreateParams{
			UserID:           req.UserID,
			Type:             req.Type,
			Title:            req.Title,
			Message:          req.Message,
			RelatedRequestID: req.RelatedRequestID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("通知作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, n)
	}
}

// handleStreamStats はSSE接続の統計情報を返すハンドラ。
func (s *Server) handleStreamStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.stats())
	}
}

// handleStream はSSEストリーム接続を処理するハンドラ。
// 接続直後にconnectedイベントを送信し、以降はイベントバスから受け取った
// 変更をnotificationイベントとして配信する。一定間隔でハートビートも送る。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		sess := newSession(userID)

		// バス購読より先に積むことで、connectedが必ず最初のイベントになる
		sess.enqueue(streamEvent{Name: "connected", Data: gin.H{
			"message":    "接続しました",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"session_id": sess.id,
			"user_id":    userID,
		}})

		// 自ユーザー宛のイベントのみ転送する。コールバックは発行側の
		// ゴルーチンで実行されるため、enqueueはブロックしない。
		unsubscribes := []func(){
			s.bus.Subscribe(EventCreated, func(payload any) {
				ev, ok := payload.(CreatedEvent)
				if !ok || ev.UserID != userID {
					return
				}
				n := ev.Notification
				sess.enqueue(streamEvent{Name: "notification", Data: streamPayload{
					Action:       "created",
					Notification: &n,
				}})
			}),
			s.bus.Subscribe(EventRead, func(payload any) {
				ev, ok := payload.(ReadEvent)
				if !ok || ev.UserID != userID {
					return
				}
				sess.enqueue(streamEvent{Name: "notification", Data: streamPayload{
					Action:         "read",
					NotificationID: ev.NotificationID,
				}})
			}),
			s.bus.Subscribe(EventDeleted, func(payload any) {
				ev, ok := payload.(DeletedEvent)
				if !ok || ev.UserID != userID {
					return
				}
				sess.enqueue(streamEvent{Name: "notification", Data: streamPayload{
					Action:         "deleted",
					NotificationID: ev.NotificationID,
				}})
			}),
			s.bus.Subscribe(EventAllRead, func(payload any) {
				ev, ok := payload.(AllReadEvent)
				if !ok || ev.UserID != userID {
					return
				}
				sess.enqueue(streamEvent{Name: "notification", Data: streamPayload{
					Action: "all-read",
				}})
			}),
		}

		s.hub.add(sess)
		defer func() {
			s.hub.remove(sess.id)
			for _, unsubscribe := range unsubscribes {
				unsubscribe()
			}
			log.Printf("[Stream] SSE接続を終了: session=%s, user=%s", sess.id, userID)
		}()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		log.Printf("[Stream] SSE接続を開始: session=%s, user=%s", sess.id, userID)

		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case ev := <-sess.ch:
				c.SSEvent(ev.Name, ev.Data)
				return true
			case <-ticker.C:
				c.SSEvent("heartbeat", gin.H{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				return true
			}
		})
	}
}

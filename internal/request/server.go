package request

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/introhub/pkg/middleware"
)

// Server は紹介リクエストAPIのハンドラ群。ゲートウェイのルーターにマウントされる。
type Server struct {
	// store は紹介リクエストの永続化層。
	store *Store
}

// NewServer は新しい紹介リクエストサーバーを生成する。
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// RegisterRoutes は認証済みルートグループに紹介リクエストAPIを登録する。
func (s *Server) RegisterRoutes(api *gin.RouterGroup) {
	requests := api.Group("/requests")
	{
		// 紹介リクエスト作成
		requests.POST("", s.handleCreate())
		// 紹介リクエスト一覧取得（role=sent / received）
		requests.GET("", s.handleList())
		// 紹介リクエスト取得
		requests.GET("/:id", s.handleGet())
		// 紹介リクエスト承認
		requests.PUT("/:id/approve", s.handleApprove())
		// 紹介リクエスト却下
		requests.PUT("/:id/decline", s.handleDecline())
	}
}

// createRequest は紹介リクエスト作成リクエストのJSON構造。
type createRequest struct {
	// ApproverID は紹介を承認するユーザーID。
	ApproverID string `json:"approver_id" binding:"required"`
	// ContactName は紹介対象の連絡先の氏名（任意）。
	ContactName string `json:"contact_name"`
	// ContactEmail は紹介対象の連絡先のメールアドレス（任意）。
	ContactEmail string `json:"contact_email"`
	// Message は依頼メッセージ。
	Message string `json:"message" binding:"required"`
}

// handleCreate は紹介リクエストを作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		created, err := s.store.Create(c.Request.Context(), CreateParams{
			RequesterID:  userID,
			ApproverID:   req.ApproverID,
			ContactName:  req.ContactName,
			ContactEmail: req.ContactEmail,
			Message:      req.Message,
		})
		if errors.Is(err, ErrSelfApproval) {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrSelfApproval.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "紹介リクエストの作成に失敗しました"})
			log.Printf("紹介リクエスト作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, created)
	}
}

// handleList は認証済みユーザーの紹介リクエスト一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		role := c.DefaultQuery("role", "received")
		requests, err := s.store.List(c.Request.Context(), userID, role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roleはsentまたはreceivedを指定してください"})
			return
		}

		c.JSON(http.StatusOK, requests)
	}
}

// handleGet は指定された紹介リクエストを返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		req, err := s.store.Get(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			s.writeStoreError(c, err)
			return
		}

		c.JSON(http.StatusOK, req)
	}
}

// respondRequest は承認・却下リクエストのJSON構造。
type respondRequest struct {
	// ResponseMessage は承認者からの応答メッセージ（任意）。
	ResponseMessage *string `json:"response_message"`
}

// handleApprove は紹介リクエストを承認するハンドラ。
func (s *Server) handleApprove() gin.HandlerFunc {
	return s.handleRespond(s.store.Approve)
}

// handleDecline は紹介リクエストを却下するハンドラ。
func (s *Server) handleDecline() gin.HandlerFunc {
	return s.handleRespond(s.store.Decline)
}

// handleRespond は承認・却下に共通する応答処理のハンドラ。
func (s *Server) handleRespond(respond func(ctx context.Context, id, userID string, responseMessage *string) (*Request, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		// ボディは省略可能
		var req respondRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
				return
			}
		}

		updated, err := respond(c.Request.Context(), c.Param("id"), userID, req.ResponseMessage)
		if err != nil {
			s.writeStoreError(c, err)
			return
		}

		c.JSON(http.StatusOK, updated)
	}
}

// writeStoreError はストアのエラーをHTTPステータスコードに変換して返す。
func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
	case errors.Is(err, ErrAlreadyResponded):
		c.JSON(http.StatusConflict, gin.H{"error": ErrAlreadyResponded.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "紹介リクエストの処理に失敗しました"})
		log.Printf("紹介リクエストストアエラー: %v", err)
	}
}

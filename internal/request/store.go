package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/introhub/internal/notification"
)

// 紹介リクエスト操作のエラー。ハンドラはerrors.IsでHTTPステータスコードに変換する。
var (
	// ErrNotFound は指定されたIDのリクエストが存在しないことを表す。
	ErrNotFound = errors.New("紹介リクエストが見つかりません")
	// ErrForbidden は当事者以外がリクエストを操作しようとしたことを表す。
	ErrForbidden = errors.New("この紹介リクエストを操作する権限がありません")
	// ErrAlreadyResponded は応答済みのリクエストへ再度応答しようとしたことを表す。
	ErrAlreadyResponded = errors.New("この紹介リクエストは応答済みです")
	// ErrSelfApproval は依頼者と承認者が同一であることを表す。
	ErrSelfApproval = errors.New("自分自身を承認者に指定することはできません")
)

// Status は紹介リクエストの状態を表す。
type Status string

const (
	// StatusPending は応答待ちの状態。
	StatusPending Status = "pending"
	// StatusApproved は承認された状態。
	StatusApproved Status = "approved"
	// StatusDeclined は却下された状態。
	StatusDeclined Status = "declined"
)

// Request は1件の紹介リクエストを表す。
type Request struct {
	// ID はリクエストの一意識別子（UUID）。
	ID string `db:"id" json:"id"`
	// RequesterID は紹介を依頼したユーザーID。
	RequesterID string `db:"requester_id" json:"requester_id"`
	// ApproverID は紹介を承認するユーザーID。
	ApproverID string `db:"approver_id" json:"approver_id"`
	// ContactName は紹介対象の連絡先の氏名。連絡先帳は外部システムのため
	// IDではなく表示に必要な情報を非正規化して保持する。
	ContactName string `db:"contact_name" json:"contact_name"`
	// ContactEmail は紹介対象の連絡先のメールアドレス。
	ContactEmail string `db:"contact_email" json:"contact_email"`
	// Message は依頼メッセージ。
	Message string `db:"message" json:"message"`
	// Status はリクエストの状態。
	Status Status `db:"status" json:"status"`
	// ResponseMessage は承認者からの応答メッセージ。無い場合はnil。
	ResponseMessage *string `db:"response_message" json:"response_message,omitempty"`
	// CreatedAt はリクエストの作成日時。
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	// UpdatedAt はリクエストの更新日時。
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Notifier は状態変更をユーザーへの通知として作成する。
// 通知サービスのストアがこのインターフェースを満たす。
type Notifier interface {
	Create(ctx context.Context, params notification.CreateParams) (*notification.Notification, error)
}

// Store は紹介リクエストの永続化とワークフローの状態遷移を行う。
// 各遷移は状態の永続化が成功した後に通知を1件作成する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// notifier は状態変更の通知先。
	notifier Notifier
}

// NewStore は新しい紹介リクエストストアを生成し、スキーマを適用する。
func NewStore(db *sqlx.DB, notifier Notifier) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db, notifier: notifier}, nil
}

// CreateParams は紹介リクエスト作成のパラメータ。
type CreateParams struct {
	// RequesterID は紹介を依頼するユーザーID。
	RequesterID string
	// ApproverID は紹介を承認するユーザーID。
	ApproverID string
	// ContactName は紹介対象の連絡先の氏名（任意）。
	ContactName string
	// ContactEmail は紹介対象の連絡先のメールアドレス（任意）。
	ContactEmail string
	// Message は依頼メッセージ。
	Message string
}

// Create は紹介リクエストをpending状態で作成し、承認者へ通知する。
// 依頼者と承認者が同一の場合はErrSelfApprovalを返す。
func (s *Store) Create(ctx context.Context, params CreateParams) (*Request, error) {
	if params.RequesterID == "" || params.ApproverID == "" {
		return nil, fmt.Errorf("依頼者と承認者のユーザーIDが必要です")
	}
	if params.RequesterID == params.ApproverID {
		return nil, ErrSelfApproval
	}
	if params.Message == "" {
		return nil, fmt.Errorf("依頼メッセージが必要です")
	}

	now := time.Now().UTC()
	req := Request{
		ID:           uuid.New().String(),
		RequesterID:  params.RequesterID,
		ApproverID:   params.ApproverID,
		ContactName:  params.ContactName,
		ContactEmail: params.ContactEmail,
		Message:      params.Message,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO introduction_requests (
			id, requester_id, approver_id, contact_name, contact_email,
			message, status, response_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		req.ID, req.RequesterID, req.ApproverID, req.ContactName, req.ContactEmail,
		req.Message, req.Status, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("紹介リクエストの作成に失敗: %w", err)
	}

	s.notify(ctx, req.ApproverID, notification.TypeIntroductionRequest,
		"新しい紹介リクエスト", "紹介リクエストが届きました", &req)

	return &req, nil
}

// List は指定ユーザーが関わる紹介リクエストの一覧を作成日時の降順で返す。
// roleが"sent"の場合は依頼したもの、"received"の場合は受け取ったものを返す。
func (s *Store) List(ctx context.Context, userID, role string) ([]Request, error) {
	var column string
	switch role {
	case "sent":
		column = "requester_id"
	case "received":
		column = "approver_id"
	default:
		return nil, fmt.Errorf("roleが不正です: %s", role)
	}

	requests := []Request{}
	err := s.db.SelectContext(ctx, &requests, `
		SELECT id, requester_id, approver_id, contact_name, contact_email,
		       message, status, response_message, created_at, updated_at
		FROM introduction_requests
		WHERE `+column+` = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("紹介リクエスト一覧の取得に失敗: %w", err)
	}
	return requests, nil
}

// Get は指定された紹介リクエストを返す。
// 依頼者と承認者以外が取得しようとした場合はErrForbiddenを返す。
func (s *Store) Get(ctx context.Context, id, userID string) (*Request, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != userID && req.ApproverID != userID {
		return nil, ErrForbidden
	}
	return req, nil
}

// Approve は紹介リクエストを承認し、依頼者へ通知する。
func (s *Store) Approve(ctx context.Context, id, userID string, responseMessage *string) (*Request, error) {
	return s.respond(ctx, id, userID, StatusApproved, responseMessage)
}

// Decline は紹介リクエストを却下し、依頼者へ通知する。
func (s *Store) Decline(ctx context.Context, id, userID string, responseMessage *string) (*Request, error) {
	return s.respond(ctx, id, userID, StatusDeclined, responseMessage)
}

// respond は応答待ちのリクエストを指定された状態へ遷移させる。
// 承認者以外はErrForbidden、応答済みはErrAlreadyRespondedを返す。
func (s *Store) respond(ctx context.Context, id, userID string, status Status, responseMessage *string) (*Request, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ApproverID != userID {
		return nil, ErrForbidden
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyResponded
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE introduction_requests
		SET status = ?, response_message = ?, updated_at = ?
		WHERE id = ?`,
		status, responseMessage, now, id)
	if err != nil {
		return nil, fmt.Errorf("紹介リクエストの応答処理に失敗: %w", err)
	}

	req.Status = status
	req.ResponseMessage = responseMessage
	req.UpdatedAt = now

	switch status {
	case StatusApproved:
		s.notify(ctx, req.RequesterID, notification.TypeIntroductionApproved,
			"紹介リクエストが承認されました", "紹介リクエストが承認されました", req)
	case StatusDeclined:
		s.notify(ctx, req.RequesterID, notification.TypeIntroductionDeclined,
			"紹介リクエストが却下されました", "紹介リクエストが却下されました", req)
	}

	return req, nil
}

// get はIDで紹介リクエストを取得する。
func (s *Store) get(ctx context.Context, id string) (*Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req, `
		SELECT id, requester_id, approver_id, contact_name, contact_email,
		       message, status, response_message, created_at, updated_at
		FROM introduction_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("紹介リクエストの取得に失敗: %w", err)
	}
	return &req, nil
}

// notify は状態変更の通知を作成する。
// リクエストの状態は永続化済みのため、通知の作成に失敗しても
// ワークフローは失敗させず、ログに記録するだけに留める。
func (s *Store) notify(ctx context.Context, userID string, typ notification.Type, title, message string, req *Request) {
	metadata, err := json.Marshal(map[string]string{
		"requester_id": req.RequesterID,
		"approver_id":  req.ApproverID,
		"contact_name": req.ContactName,
	})
	if err != nil {
		log.Printf("通知メタデータの作成に失敗: %v", err)
		metadata = nil
	}

	if _, err := s.notifier.Create(ctx, notification.CreateParams{
		UserID:           userID,
		Type:             typ,
		Title:            title,
		Message:          message,
		RelatedRequestID: &req.ID,
		Metadata:         metadata,
	}); err != nil {
		log.Printf("紹介リクエスト通知の作成に失敗: request=%s, user=%s, err=%v", req.ID, userID, err)
	}
}

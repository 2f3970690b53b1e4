package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/introhub/pkg/bus"
)

// 通知操作のエラー。ハンドラはerrors.IsでHTTPステータスコードに変換する。
var (
	// ErrNotFound は指定されたIDの通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他ユーザーの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
)

// Type は通知の種類を表す。
type Type string

const (
	// TypeIntroductionRequest は紹介リクエストが作成されたことを表す。
	TypeIntroductionRequest Type = "introduction_request"
	// TypeIntroductionApproved は紹介リクエストが承認されたことを表す。
	TypeIntroductionApproved Type = "introduction_approved"
	// TypeIntroductionDeclined は紹介リクエストが却下されたことを表す。
	TypeIntroductionDeclined Type = "introduction_declined"
)

// Valid は通知の種類が定義済みのものかどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeIntroductionRequest, TypeIntroductionApproved, TypeIntroductionDeclined:
		return true
	}
	return false
}

// Notification は1件の通知レコードを表す。
// 作成後はis_read以外のフィールドは変更されない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id" json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `db:"user_id" json:"user_id"`
	// Type は通知の種類。
	Type Type `db:"type" json:"type"`
	// Title は通知のタイトル。
	Title string `db:"title" json:"title"`
	// Message は通知メッセージ。
	Message string `db:"message" json:"message"`
	// Read は通知の既読状態。
	Read bool `db:"is_read" json:"is_read"`
	// RelatedRequestID は関連する紹介リクエストのID。無い場合はnil。
	RelatedRequestID *string `db:"related_request_id" json:"related_request_id,omitempty"`
	// Metadata は追加情報のJSON。無い場合はnil。
	Metadata json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Pagination は一覧レスポンスのページネーション情報。
type Pagination struct {
	// Page は現在のページ番号（1始まり）。
	Page int `json:"page"`
	// PageSize は1ページあたりの件数。
	PageSize int `json:"page_size"`
	// TotalItems は全件数。
	TotalItems int `json:"total_items"`
	// TotalPages は全ページ数。
	TotalPages int `json:"total_pages"`
	// HasNextPage は次のページが存在するかどうか。
	HasNextPage bool `json:"has_next_page"`
	// HasPreviousPage は前のページが存在するかどうか。
	HasPreviousPage bool `json:"has_previous_page"`
}

// Page は通知一覧のページネーション付きレスポンス。
type Page struct {
	// Data は現在のページに含まれる通知。作成日時の降順。
	Data []Notification `json:"data"`
	// Pagination はページネーション情報。
	Pagination Pagination `json:"pagination"`
}

// UnreadCount は未読通知数のレスポンス。
type UnreadCount struct {
	// Count は未読通知の件数。
	Count int `json:"count"`
	// HasUnread は未読通知が存在するかどうか。
	HasUnread bool `json:"has_unread"`
}

// CreateParams は通知作成のパラメータ。
type CreateParams struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Type は通知の種類。
	Type Type
	// Title は通知のタイトル。
	Title string
	// Message は通知メッセージ。
	Message string
	// RelatedRequestID は関連する紹介リクエストのID（任意）。
	RelatedRequestID *string
	// Metadata は追加情報のJSON（任意）。
	Metadata json.RawMessage
}

// Store は通知の永続化とイベント発行を行う。
// 変更操作が成功した場合のみ、永続化の完了後に対応するイベントを
// バスへ1件発行する。永続化に失敗した場合はイベントを発行しない。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// bus は変更イベントの発行先。
	bus *bus.Bus
}

// NewStore は新しい通知ストアを生成し、スキーマを適用する。
// ストアとバスは別々に注入する（発行処理を独立して検証できるようにするため）。
func NewStore(db *sqlx.DB, b *bus.Bus) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db, bus: b}, nil
}

// Create は通知を作成し、notification:createdイベントを発行する。
func (s *Store) Create(ctx context.Context, params CreateParams) (*Notification, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("通知先のユーザーIDが必要です")
	}
	if !params.Type.Valid() {
		return nil, fmt.Errorf("通知の種類が不正です: %s", params.Type)
	}
	if params.Title == "" || params.Message == "" {
		return nil, fmt.Errorf("通知のタイトルとメッセージが必要です")
	}

	n := Notification{
		ID:               uuid.New().String(),
		UserID:           params.UserID,
		Type:             params.Type,
		Title:            params.Title,
		Message:          params.Message,
		Read:             false,
		RelatedRequestID: params.RelatedRequestID,
		Metadata:         params.Metadata,
		CreatedAt:        time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, type, title, message, is_read,
			related_request_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message,
		n.RelatedRequestID, nullableJSON(n.Metadata), n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("通知の作成に失敗: %w", err)
	}

	s.bus.Publish(EventCreated, CreatedEvent{UserID: n.UserID, Notification: n})
	return &n, nil
}

// List は指定ユーザーの通知一覧を作成日時の降順で返す。
// pageは1始まり。unreadOnlyがtrueの場合は未読通知のみを返す。
func (s *Store) List(ctx context.Context, userID string, page, pageSize int, unreadOnly bool) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	where := "WHERE user_id = ?"
	if unreadOnly {
		where += " AND is_read = 0"
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM notifications "+where, userID); err != nil {
		return nil, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	notifications := []Notification{}
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, user_id, type, title, message, is_read,
		       related_request_id, metadata, created_at
		FROM notifications `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &Page{
		Data: notifications,
		Pagination: Pagination{
			Page:            page,
			PageSize:        pageSize,
			TotalItems:      total,
			TotalPages:      totalPages,
			HasNextPage:     page < totalPages,
			HasPreviousPage: page > 1,
		},
	}, nil
}

// UnreadCount は指定ユーザーの未読通知数を返す。
func (s *Store) UnreadCount(ctx context.Context, userID string) (*UnreadCount, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return nil, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return &UnreadCount{Count: count, HasUnread: count > 0}, nil
}

// MarkAsRead は指定された通知を既読にし、notification:readイベントを発行する。
// 通知が存在しない場合はErrNotFound、userIDが所有者でない場合はErrForbiddenを返す。
func (s *Store) MarkAsRead(ctx context.Context, id, userID string) error {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}

	s.bus.Publish(EventRead, ReadEvent{UserID: userID, NotificationID: id})
	return nil
}

// MarkAllAsRead は指定ユーザーの全通知を既読にし、notification:all-readイベントを発行する。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID); err != nil {
		return fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}

	s.bus.Publish(EventAllRead, AllReadEvent{UserID: userID})
	return nil
}

// Delete は指定された通知を削除し、notification:deletedイベントを発行する。
// 所有者チェックはMarkAsReadと同一。
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	if err := s.checkOwnership(ctx, id, userID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = ?", id); err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}

	s.bus.Publish(EventDeleted, DeletedEvent{UserID: userID, NotificationID: id})
	return nil
}

// DeleteAllRead は指定ユーザーの既読通知をすべて削除し、削除件数を返す。
// イベントは発行しない（呼び出し元が自身のキャッシュを再取得して整合させる）。
func (s *Store) DeleteAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE user_id = ? AND is_read = 1", userID)
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// checkOwnership は通知の存在と所有者を確認する。
func (s *Store) checkOwnership(ctx context.Context, id, userID string) error {
	var ownerID string
	err := s.db.GetContext(ctx, &ownerID,
		"SELECT user_id FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if ownerID != userID {
		return ErrForbidden
	}
	return nil
}

// nullableJSON は空のJSONをNULLとして保存するための変換を行う。
func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

// 一覧取得のページサイズ制限。
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

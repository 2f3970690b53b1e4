package request

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// スキーマ定義。statusはpending / approved / declinedのいずれか。
const schema = `
CREATE TABLE IF NOT EXISTS introduction_requests (
    -- リクエストの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 紹介を依頼したユーザーID
    requester_id TEXT NOT NULL,
    -- 紹介を承認するユーザーID
    approver_id TEXT NOT NULL,
    -- 紹介対象の連絡先の氏名（非正規化して保持する）
    contact_name TEXT NOT NULL DEFAULT '',
    -- 紹介対象の連絡先のメールアドレス（非正規化して保持する）
    contact_email TEXT NOT NULL DEFAULT '',
    -- 依頼メッセージ
    message TEXT NOT NULL,
    -- リクエストの状態（pending / approved / declined）
    status TEXT NOT NULL DEFAULT 'pending',
    -- 承認者からの応答メッセージ（任意）
    response_message TEXT,
    -- リクエストの作成日時
    created_at DATETIME NOT NULL,
    -- リクエストの更新日時
    updated_at DATETIME NOT NULL
);

-- 依頼者・承認者それぞれの一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_introduction_requests_requester
    ON introduction_requests(requester_id);
CREATE INDEX IF NOT EXISTS idx_introduction_requests_approver
    ON introduction_requests(approver_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("紹介リクエストスキーマの適用に失敗: %w", err)
	}
	return nil
}

package gateway

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// スキーマ定義。パスワードはbcryptハッシュのみを保存する。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- メールアドレス（サインイン時の識別子）
    email TEXT NOT NULL UNIQUE,
    -- bcryptでハッシュ化されたパスワード
    password_hash TEXT NOT NULL,
    -- 表示名
    display_name TEXT NOT NULL,
    -- アカウントの作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 最終サインイン日時
    last_login_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sqlx.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ユーザースキーマの適用に失敗: %w", err)
	}
	return nil
}

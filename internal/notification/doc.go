// Package notification は通知サービスの内部実装を提供する。
//
// 紹介リクエストの作成・承認・却下などの状態変更をユーザーへの通知として
// 永続化し、イベントバス経由でSSEストリームセッションへリアルタイム配信する。
// 通知の一覧取得（ページネーション付き）、未読数取得、既読管理、削除も行う。
package notification

// Package notifyclient は通知サービスのGoクライアントを提供する。
//
// SSEストリームへ接続して通知の変更をリアルタイムに受信し、
// ローカルキャッシュへ反映する。接続が切れた場合は指数バックオフで
// 自動再接続し、再接続のたびにサーバーから一覧と未読数を取得して
// キャッシュを整合させる。既読化や削除などの操作APIも提供する。
package notifyclient

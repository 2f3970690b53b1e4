// Package httpclient はintrohub APIとのHTTP通信を行うクライアントを提供する。
//
// 通知クライアント（pkg/notifyclient）が一覧取得・既読化・削除などの
// リクエスト/レスポンス型APIを呼び出す際に使用する。Bearerトークンに
// よる認証と、コンテキスト経由のユーザーID伝播をサポートする。
package httpclient

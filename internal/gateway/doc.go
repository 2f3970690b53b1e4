// Package gateway はIntroHubのHTTPサーバー本体を提供する。
//
// ユーザー認証（サインアップ・サインイン・JWT発行）を担い、通知サービスと
// 紹介リクエストサービスのルートを単一のルーターへマウントする。
// データベース接続とイベントバスはここで生成し、各サービスへ注入する。
package gateway

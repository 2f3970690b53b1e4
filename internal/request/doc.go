// Package request は紹介リクエストのワークフローを提供する。
//
// 紹介リクエストはpending状態で作成され、承認者によってapprovedまたは
// declinedへ一度だけ遷移する。作成時は承認者へ、応答時は依頼者へ、
// それぞれ通知を1件作成する。通知の作成はリクエストの状態変更が
// 永続化された後にのみ行う。
package request

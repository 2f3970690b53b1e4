// Package bus はプロセス内のイベント発行・購読（Pub/Sub）機構を提供する。
//
// 通知の作成・既読化・削除などの状態変更を、同一プロセス内の
// 購読者（SSEストリームセッション等）へ同期的にファンアウトする。
// バッファリングや永続化は行わず、発行時点で登録されていない購読者に
// イベントが届くことはない。プロセスをまたぐ配信が必要になった場合は、
// 同じPublish/Subscribe契約を持つ外部ブローカーに置き換えること。
package bus

package notification

// イベントバスで使用するイベント名。
// NotificationStoreの各変更操作が永続化成功後に1件発行する。
const (
	// EventCreated は通知が作成されたことを表すイベント名。
	EventCreated = "notification:created"
	// EventRead は通知が既読になったことを表すイベント名。
	EventRead = "notification:read"
	// EventDeleted は通知が削除されたことを表すイベント名。
	EventDeleted = "notification:deleted"
	// EventAllRead はユーザーの全通知が既読になったことを表すイベント名。
	EventAllRead = "notification:all-read"
)

// CreatedEvent は通知作成イベントのペイロード。
// 購読者がユーザーIDでフィルタリングできるよう、通知先ユーザーIDを必ず持つ。
type CreatedEvent struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Notification は作成された通知。
	Notification Notification
}

// ReadEvent は既読化イベントのペイロード。
type ReadEvent struct {
	// UserID は通知の所有者のユーザーID。
	UserID string
	// NotificationID は既読になった通知のID。
	NotificationID string
}

// DeletedEvent は削除イベントのペイロード。
type DeletedEvent struct {
	// UserID は通知の所有者のユーザーID。
	UserID string
	// NotificationID は削除された通知のID。
	NotificationID string
}

// AllReadEvent は全既読化イベントのペイロード。
type AllReadEvent struct {
	// UserID は全通知が既読になったユーザーのID。
	UserID string
}

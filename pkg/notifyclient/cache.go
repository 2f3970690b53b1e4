package notifyclient

import (
	"sync"

	"github.com/nao1215/introhub/internal/notification"
)

// Cache は通知一覧・未読数・ページネーション情報のローカルキャッシュ。
// 常に1ページ目の窓をミラーする。SSEで受信した変更イベントを差分適用し、
// 再接続時にはReplaceでサーバーの状態へ置き換える。
// すべてのメソッドは並行に呼び出せる。
type Cache struct {
	// mu は全フィールドを保護する。
	mu sync.RWMutex
	// notifications はキャッシュ中の通知。作成日時の降順。
	notifications []notification.Notification
	// pageSize は1ページあたりの件数。全ページ数の算出に使う。
	pageSize int
	// totalItems はサーバー上の全件数。
	totalItems int
	// unreadCount はサーバー上の未読数。
	unreadCount int
}

// NewCache は空のキャッシュを生成する。
func NewCache() *Cache {
	return &Cache{pageSize: defaultPageSize}
}

// Replace はキャッシュ全体をサーバーから取得した状態へ置き換える。
func (c *Cache) Replace(notifications []notification.Notification, pagination notification.Pagination, unreadCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifications = make([]notification.Notification, len(notifications))
	copy(c.notifications, notifications)
	if pagination.PageSize > 0 {
		c.pageSize = pagination.PageSize
	}
	c.totalItems = pagination.TotalItems
	c.unreadCount = unreadCount
}

// ApplyCreated は通知作成イベントをキャッシュへ反映する。
// 新しい通知を先頭へ追加し、全件数と未読数を増やす。
func (c *Cache) ApplyCreated(n notification.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifications = append([]notification.Notification{n}, c.notifications...)
	c.totalItems++
	if !n.Read {
		c.unreadCount++
	}
}

// ApplyRead は既読化イベントをキャッシュへ反映する。
// 対象が既に既読の場合は何もしない。キャッシュに無い通知のIDを
// 受け取った場合も未読数だけを減らす（サーバー側では既読になっているため）。
func (c *Cache) ApplyRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notifications {
		if c.notifications[i].ID != id {
			continue
		}
		if c.notifications[i].Read {
			return
		}
		c.notifications[i].Read = true
		c.decrementUnread()
		return
	}
	c.decrementUnread()
}

// ApplyDeleted は削除イベントをキャッシュへ反映する。
// 削除された通知が未読だった場合は未読数も減らす。
// キャッシュに無い通知のIDを受け取った場合は何もしない。
func (c *Cache) ApplyDeleted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notifications {
		if c.notifications[i].ID != id {
			continue
		}
		wasUnread := !c.notifications[i].Read
		c.notifications = append(c.notifications[:i], c.notifications[i+1:]...)
		c.totalItems--
		if wasUnread {
			c.decrementUnread()
		}
		return
	}
}

// ApplyAllRead は全既読化イベントをキャッシュへ反映する。
func (c *Cache) ApplyAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.notifications {
		c.notifications[i].Read = true
	}
	c.unreadCount = 0
}

// ApplyDeleteAllRead は既読通知の一括削除をキャッシュへ反映する。
func (c *Cache) ApplyDeleteAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.notifications[:0]
	removed := 0
	for _, n := range c.notifications {
		if n.Read {
			removed++
			continue
		}
		remaining = append(remaining, n)
	}
	c.notifications = remaining
	c.totalItems -= removed
	if c.totalItems < 0 {
		c.totalItems = 0
	}
}

// decrementUnread は未読数を減らす。0未満にはならない。
func (c *Cache) decrementUnread() {
	if c.unreadCount > 0 {
		c.unreadCount--
	}
}

// Notifications はキャッシュ中の通知のコピーを返す。
func (c *Cache) Notifications() []notification.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]notification.Notification, len(c.notifications))
	copy(result, c.notifications)
	return result
}

// UnreadCount はキャッシュ中の未読数を返す。
func (c *Cache) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unreadCount
}

// TotalItems はキャッシュ中の全件数を返す。
func (c *Cache) TotalItems() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalItems
}

// TotalPages は全件数とページサイズから全ページ数を返す。
// 差分適用で全件数が変わるたびに算出し直される。
func (c *Cache) TotalPages() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalPagesLocked()
}

// HasNextPage はキャッシュの窓（1ページ目）の次のページが存在するかどうかを返す。
func (c *Cache) HasNextPage() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalPagesLocked() > 1
}

// Pagination はキャッシュのページネーション情報のスナップショットを返す。
// キャッシュは常に1ページ目をミラーするため、前のページは存在しない。
func (c *Cache) Pagination() notification.Pagination {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalPages := c.totalPagesLocked()
	return notification.Pagination{
		Page:            1,
		PageSize:        c.pageSize,
		TotalItems:      c.totalItems,
		TotalPages:      totalPages,
		HasNextPage:     totalPages > 1,
		HasPreviousPage: false,
	}
}

// totalPagesLocked は全ページ数を算出する。muを保持して呼び出すこと。
func (c *Cache) totalPagesLocked() int {
	if c.pageSize < 1 {
		return 0
	}
	return (c.totalItems + c.pageSize - 1) / c.pageSize
}

// HasUnread は未読通知が存在するかどうかを返す。
func (c *Cache) HasUnread() bool {
	return c.UnreadCount() > 0
}

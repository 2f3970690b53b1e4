package bus

import (
	"log"
	"sync"
)

// Handler はイベント受信時に呼び出されるコールバック関数。
// payloadには発行側が渡したイベントデータがそのまま渡される。
type Handler func(payload any)

// listener は登録済みのハンドラ1件を表す。
// idは購読解除時にハンドラを特定するために使用する。
type listener struct {
	id int64
	fn Handler
}

// Bus はプロセス内のイベントバス。イベント名ごとに購読者を管理し、
// 発行されたイベントを登録順に同期配信する。
// 複数のゴルーチンから同時に利用しても安全。
type Bus struct {
	// mu はlistenersへの並行アクセスを保護するミューテックス。
	mu sync.RWMutex
	// listeners はイベント名ごとの購読者リスト。スライスの順序が登録順。
	listeners map[string][]listener
	// nextID は次に割り当てる購読者ID。
	nextID int64
	// closed はClose済みかどうか。trueの場合、発行・購読は無視される。
	closed bool
}

// New は新しいイベントバスを生成する。
// テストではグローバル共有せず、テストごとに独立したバスを構築すること。
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]listener),
	}
}

// Subscribe は指定イベント名の購読を登録し、購読解除用の関数を返す。
// 解除関数は複数回呼び出しても安全（2回目以降は何もしない）。
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.unsubscribe(name, id)
		})
	}
}

// unsubscribe は指定イベント名から購読者を取り除く。
func (b *Bus) unsubscribe(name string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[name]
	for i, l := range current {
		if l.id == id {
			b.listeners[name] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}

// Publish は指定イベント名の全購読者へpayloadを同期配信する。
// 配信は呼び出し元のゴルーチン上で登録順に行われる。
// 発行時点で購読していないハンドラにイベントが届くことはない（バッファなし）。
// ハンドラがパニックしても残りの購読者への配信は継続する。
func (b *Bus) Publish(name string, payload any) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	// 配信中のSubscribe/Unsubscribeがスライスを変更しても影響を受けないよう、
	// ロック中にスナップショットを取る。
	snapshot := make([]listener, len(b.listeners[name]))
	copy(snapshot, b.listeners[name])
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.dispatch(name, l, payload)
	}
}

// dispatch は1つの購読者へイベントを配信する。
// パニックを回復し、他の購読者への配信を妨げないようにする。
func (b *Bus) dispatch(name string, l listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] イベントハンドラでパニックが発生しました: event=%s, panic=%v", name, r)
		}
	}()
	l.fn(payload)
}

// ListenerCount は指定イベント名の現在の購読者数を返す。
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Close は全購読者を破棄してバスを停止する。
// Close後のPublishとSubscribeは何もしない。プロセス終了時に呼び出すこと。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[string][]listener)
}

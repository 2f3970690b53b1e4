package bus

import (
	"sync"
	"testing"
)

// TestPublishSubscribe はイベントの発行と購読の基本動作を検証する。
func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("購読者にpayloadが届く", func(t *testing.T) {
		t.Parallel()
		b := New()

		var got any
		b.Subscribe("test:event", func(payload any) {
			got = payload
		})

		b.Publish("test:event", "hello")

		if got != "hello" {
			t.Errorf("payload: got %v, want hello", got)
		}
	})

	t.Run("異なるイベント名の購読者には届かない", func(t *testing.T) {
		t.Parallel()
		b := New()

		called := false
		b.Subscribe("event:a", func(_ any) {
			called = true
		})

		b.Publish("event:b", "data")

		if called {
			t.Error("event:a の購読者が event:b を受信してしまった")
		}
	})

	t.Run("複数の購読者が登録順に受信する", func(t *testing.T) {
		t.Parallel()
		b := New()

		var order []int
		b.Subscribe("test:event", func(_ any) { order = append(order, 1) })
		b.Subscribe("test:event", func(_ any) { order = append(order, 2) })
		b.Subscribe("test:event", func(_ any) { order = append(order, 3) })

		b.Publish("test:event", nil)

		if len(order) != 3 {
			t.Fatalf("受信回数: got %d, want 3", len(order))
		}
		for i, v := range order {
			if v != i+1 {
				t.Errorf("受信順序[%d]: got %d, want %d", i, v, i+1)
			}
		}
	})

	t.Run("発行時点で未登録の購読者には届かない", func(t *testing.T) {
		t.Parallel()
		b := New()

		b.Publish("test:event", "early")

		called := false
		b.Subscribe("test:event", func(_ any) {
			called = true
		})

		if called {
			t.Error("購読前に発行されたイベントが配信されてしまった")
		}
	})
}

// TestUnsubscribe は購読解除の動作を検証する。
func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	t.Run("解除後はイベントが届かない", func(t *testing.T) {
		t.Parallel()
		b := New()

		count := 0
		unsubscribe := b.Subscribe("test:event", func(_ any) { count++ })

		b.Publish("test:event", nil)
		unsubscribe()
		b.Publish("test:event", nil)

		if count != 1 {
			t.Errorf("受信回数: got %d, want 1", count)
		}
	})

	t.Run("解除関数は複数回呼び出しても安全", func(t *testing.T) {
		t.Parallel()
		b := New()

		unsubscribe := b.Subscribe("test:event", func(_ any) {})
		b.Subscribe("test:event", func(_ any) {})

		unsubscribe()
		unsubscribe()

		if got := b.ListenerCount("test:event"); got != 1 {
			t.Errorf("購読者数: got %d, want 1", got)
		}
	})

	t.Run("一部を解除しても他の購読者は受信を継続する", func(t *testing.T) {
		t.Parallel()
		b := New()

		count1, count2 := 0, 0
		unsubscribe1 := b.Subscribe("test:event", func(_ any) { count1++ })
		b.Subscribe("test:event", func(_ any) { count2++ })

		unsubscribe1()
		b.Publish("test:event", nil)

		if count1 != 0 {
			t.Errorf("解除済み購読者の受信回数: got %d, want 0", count1)
		}
		if count2 != 1 {
			t.Errorf("継続中の購読者の受信回数: got %d, want 1", count2)
		}
	})
}

// TestPanicIsolation はハンドラのパニックが他の購読者に影響しないことを検証する。
func TestPanicIsolation(t *testing.T) {
	t.Parallel()

	b := New()

	b.Subscribe("test:event", func(_ any) {
		panic("ハンドラ内のパニック")
	})

	received := false
	b.Subscribe("test:event", func(_ any) {
		received = true
	})

	b.Publish("test:event", nil)

	if !received {
		t.Error("先行ハンドラのパニックにより後続の購読者が受信できなかった")
	}
}

// TestListenerCount は購読者数の取得を検証する。
func TestListenerCount(t *testing.T) {
	t.Parallel()

	b := New()

	if got := b.ListenerCount("test:event"); got != 0 {
		t.Errorf("初期状態の購読者数: got %d, want 0", got)
	}

	unsubscribe := b.Subscribe("test:event", func(_ any) {})
	b.Subscribe("test:event", func(_ any) {})

	if got := b.ListenerCount("test:event"); got != 2 {
		t.Errorf("購読者数: got %d, want 2", got)
	}

	unsubscribe()

	if got := b.ListenerCount("test:event"); got != 1 {
		t.Errorf("解除後の購読者数: got %d, want 1", got)
	}
}

// TestClose はバス停止後の動作を検証する。
func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("Close後は発行しても配信されない", func(t *testing.T) {
		t.Parallel()
		b := New()

		called := false
		b.Subscribe("test:event", func(_ any) { called = true })

		b.Close()
		b.Publish("test:event", nil)

		if called {
			t.Error("Close後のPublishが配信されてしまった")
		}
	})

	t.Run("Close後のSubscribeは登録されない", func(t *testing.T) {
		t.Parallel()
		b := New()
		b.Close()

		unsubscribe := b.Subscribe("test:event", func(_ any) {})
		unsubscribe()

		if got := b.ListenerCount("test:event"); got != 0 {
			t.Errorf("Close後の購読者数: got %d, want 0", got)
		}
	})
}

// TestConcurrentAccess は並行したSubscribe/Unsubscribe/Publishの安全性を検証する。
// go test -race で実行することを想定している。
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unsubscribe := b.Subscribe("test:event", func(_ any) {})
				b.Publish("test:event", j)
				unsubscribe()
			}
		}()
	}
	wg.Wait()

	if got := b.ListenerCount("test:event"); got != 0 {
		t.Errorf("全解除後の購読者数: got %d, want 0", got)
	}
}

// TestOrderingPerSubscriber は単一購読者が発行順にイベントを受信することを検証する。
func TestOrderingPerSubscriber(t *testing.T) {
	t.Parallel()

	b := New()

	var got []any
	b.Subscribe("test:event", func(payload any) {
		got = append(got, payload)
	})

	for i := 0; i < 10; i++ {
		b.Publish("test:event", i)
	}

	if len(got) != 10 {
		t.Fatalf("受信回数: got %d, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("受信順序[%d]: got %v, want %d", i, v, i)
		}
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// frontendOrigin はテストで許可するフロントエンドのオリジン。
const frontendOrigin = "http://localhost:3000"

// newCORSRouter は通知APIを模したテスト用ルーターを構築する。
func newCORSRouter(allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(CORS(allowedOrigins))
	router.GET("/api/v1/notifications/unread-count", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"count": 2, "has_unread": true})
	})
	router.PUT("/api/v1/notifications/read-all", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "全て既読にしました"})
	})
	return router
}

// doCORSRequest はOriginヘッダー付きのリクエストを実行するヘルパー関数。
func doCORSRequest(router *gin.Engine, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	t.Run("フロントエンドからのリクエストにCORSヘッダーが設定されること", func(t *testing.T) {
		t.Parallel()

		router := newCORSRouter([]string{frontendOrigin})
		w := doCORSRequest(router, http.MethodGet, "/api/v1/notifications/unread-count", frontendOrigin)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, frontendOrigin)
		}
		// JWT認証とJSONボディに必要なヘッダーが許可されている
		if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type" {
			t.Errorf("Access-Control-Allow-Headers = %q, want %q", got, "Authorization, Content-Type")
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
			t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, "GET, POST, PUT, DELETE, OPTIONS")
		}
	})

	t.Run("複数オリジンを許可できること", func(t *testing.T) {
		t.Parallel()

		router := newCORSRouter([]string{frontendOrigin, "https://introhub.example.com"})
		w := doCORSRequest(router, http.MethodGet, "/api/v1/notifications/unread-count", "https://introhub.example.com")

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://introhub.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://introhub.example.com")
		}
	})

	t.Run("許可されていないオリジンにはCORSヘッダーを返さないこと", func(t *testing.T) {
		t.Parallel()

		router := newCORSRouter([]string{frontendOrigin})
		w := doCORSRequest(router, http.MethodGet, "/api/v1/notifications/unread-count", "https://evil.example.com")

		// ヘッダーが無いだけでリクエスト自体は処理される
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want 空文字列", got)
		}
	})

	t.Run("Originヘッダーの無い同一オリジンリクエストには何もしないこと", func(t *testing.T) {
		t.Parallel()

		router := newCORSRouter([]string{frontendOrigin})
		w := doCORSRequest(router, http.MethodGet, "/api/v1/notifications/unread-count", "")

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want 空文字列", got)
		}
	})

	t.Run("プリフライトは204で中断されハンドラは実行されないこと", func(t *testing.T) {
		t.Parallel()

		handlerCalled := false
		router := gin.New()
		router.Use(CORS([]string{frontendOrigin}))
		router.OPTIONS("/api/v1/notifications/read-all", func(c *gin.Context) {
			handlerCalled = true
			c.JSON(http.StatusOK, gin.H{"message": "到達しない"})
		})

		w := doCORSRequest(router, http.MethodOptions, "/api/v1/notifications/read-all", frontendOrigin)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if handlerCalled {
			t.Error("プリフライトでハンドラーが呼ばれるべきではない")
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, frontendOrigin)
		}
	})

	t.Run("許可されていないオリジンからのプリフライトでもCORSヘッダーは付かないこと", func(t *testing.T) {
		t.Parallel()

		router := newCORSRouter([]string{frontendOrigin})
		w := doCORSRequest(router, http.MethodOptions, "/api/v1/notifications/read-all", "https://evil.example.com")

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want 空文字列", got)
		}
	})
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestInternalAuth はInternalAuthミドルウェアを検証する。
func TestInternalAuth(t *testing.T) {
	t.Parallel()

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(InternalAuth("internal-secret"))
		router.GET("/internal/stream/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"active_sessions": 0})
		})
		return router
	}

	t.Run("正しい共有トークンで通過できること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/internal/stream/stats", nil)
		req.Header.Set("X-Internal-Token", "internal-secret")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("誤ったトークンは403で拒否されること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/internal/stream/stats", nil)
		req.Header.Set("X-Internal-Token", "wrong-secret")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("トークンが無い場合は403で拒否されること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/internal/stream/stats", nil)
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("ユーザーのJWTをBearerで渡しても拒否されること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT("jwt-secret", "user-1", "taro@example.com")
		if err != nil {
			t.Fatalf("JWTの生成に失敗: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/internal/stream/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

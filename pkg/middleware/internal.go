package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// headerKeyInternalToken は内部API認証用のHTTPヘッダーキー。
const headerKeyInternalToken = "X-Internal-Token"

// InternalAuth はサービス間通信用の共有トークンを検証するGinミドルウェアを返す。
// 内部APIはユーザーのJWTでは呼び出せない。通知の強制作成や接続統計など、
// エンドユーザーへ公開してはならないエンドポイントに適用する。
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(headerKeyInternalToken)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "内部APIへのアクセス権限がありません",
			})
			return
		}
		c.Next()
	}
}

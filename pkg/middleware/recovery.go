package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery はハンドラ内のパニックを500エラーへ変換するGinミドルウェアを返す。
// SSEストリームのような長時間接続のハンドラが落ちてもプロセス全体は止めず、
// 発生箇所の特定のためスタックトレースをログへ残す。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Printf("[PANIC] %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, r, debug.Stack())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "サーバー内部でエラーが発生しました",
			})
		}()
		c.Next()
	}
}

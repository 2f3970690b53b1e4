// IntroHubサーバーのエントリポイント。
// ユーザー認証、紹介リクエストのワークフロー、通知のリアルタイム配信（SSE）を
// 単一のプロセスで提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/introhub/internal/gateway"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := gateway.NewServer(port)
	if err != nil {
		log.Fatalf("IntroHubサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	log.Printf("IntroHubサーバーを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("IntroHubサーバーの起動に失敗: %v", err)
	}
}

// 学習リソースAPIサーバーのエントリポイント。
// ノート・論文・シラバスのCRUDと検索APIを提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/studyhub/internal/studyhub"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := studyhub.NewServer(port)
	if err != nil {
		log.Fatalf("サーバーの初期化に失敗: %v", err)
	}
	defer func() {
		if err := server.Shutdown(); err != nil {
			log.Printf("データベースのクローズに失敗: %v", err)
		}
	}()

	log.Printf("学習リソースAPIを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("サーバーの起動に失敗: %v", err)
	}
}

package docstore

import (
	"database/sql"
	"embed"

	"github.com/nao1215/studyhub/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行してドキュメントテーブルのスキーマを適用する。
// 全コレクションを1つのdocumentsテーブルに格納する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}

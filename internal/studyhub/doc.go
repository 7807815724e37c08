// Package studyhub は学習リソースAPIの内部実装を提供する。
//
// ノート・論文・シラバスの3種類のリソースに対して、同一の
// CRUD・検索・ページネーションAPIを共通のハンドラ実装で公開する。
// 読み取りは認証不要、作成・更新・削除は管理者セッションを要求する。
package studyhub

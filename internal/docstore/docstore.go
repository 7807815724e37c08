// Package docstore はSQLiteをバックエンドとするドキュメントストアを提供する。
//
// コレクション単位でJSONドキュメントを格納し、IDによる取得・更新・削除、
// 作成日時降順のページング付き一覧、および文字列フィールドの部分一致と
// 配列フィールドの要素一致によるOR検索をサポートする。
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound は指定されたIDのドキュメントが存在しないことを示す。
var ErrNotFound = errors.New("ドキュメントが見つかりません")

// timeFormat はタイムスタンプ列に格納する固定幅のRFC3339形式。
// 小数部を9桁にゼロ埋めして格納するため、created_at列の文字列比較が
// 時刻順と一致し、同一秒内に作成されたドキュメントも正しく並ぶ。
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store はSQLiteをバックエンドとするドキュメントストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open は指定されたパスのSQLiteデータベースを開き、スキーマを適用する。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New は既存のデータベース接続からストアを生成し、スキーマを適用する。
// テストではインメモリSQLite接続を渡して使用する。
func New(db *sql.DB) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Collection は指定された名前のコレクションハンドルを返す。
func (s *Store) Collection(name string) *Collection {
	return &Collection{db: s.db, name: name}
}

// Collection は1つのコレクションに対する操作を提供する。
type Collection struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// name はコレクション名。
	name string
}

// Document はコレクションに格納される1件のドキュメント。
type Document struct {
	// ID はドキュメントの一意識別子。
	ID string
	// Fields はスキーマ固有フィールドの集合。
	Fields map[string]any
	// CreatedAt は作成日時。格納されていない過去データではゼロ値となる。
	CreatedAt time.Time
	// UpdatedAt は更新日時。格納されていない過去データではゼロ値となる。
	UpdatedAt time.Time
}

// Condition は検索フィルタの1条件。ContainsとHasのどちらか一方を指定する。
type Condition struct {
	// Field は判定対象のフィールド名。
	Field string
	// Contains は文字列フィールドに対する大文字小文字を区別しない部分一致の検索語。
	Contains string
	// Has は配列フィールドに対する完全一致の検索要素。
	Has string
}

// Filter は検索条件。AnyOfのいずれかに一致するドキュメントが対象となる（OR結合）。
// nilのFilterは全件を意味する。
type Filter struct {
	// AnyOf はOR結合される条件のリスト。
	AnyOf []Condition
}

// where はフィルタをSQLのWHERE句断片とバインド引数に変換する。
// フィールド名は呼び出し側の静的なスキーマ定義に由来するため、
// JSONパスへの埋め込みは安全である。
func (f *Filter) where() (string, []any) {
	if f == nil || len(f.AnyOf) == 0 {
		return "", nil
	}

	conds := make([]string, 0, len(f.AnyOf))
	args := make([]any, 0, len(f.AnyOf))
	for _, c := range f.AnyOf {
		switch {
		case c.Contains != "":
			conds = append(conds, fmt.Sprintf(
				"instr(lower(ifnull(json_extract(doc, '$.%s'), '')), lower(?)) > 0", c.Field))
			args = append(args, c.Contains)
		case c.Has != "":
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(doc, '$.%s') WHERE json_each.value = ?)", c.Field))
			args = append(args, c.Has)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND (" + strings.Join(conds, " OR ") + ")", args
}

// Insert はドキュメントをコレクションに挿入する。
// IDが既に存在する場合はエラーを返す。
func (c *Collection) Insert(ctx context.Context, doc Document) error {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("フィールドのシリアライズに失敗: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.name, doc.ID, string(fields), formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("ドキュメントの挿入に失敗: %w", err)
	}
	return nil
}

// FindByID は指定されたIDのドキュメントを返す。
// 存在しない場合はErrNotFoundを返す。
func (c *Collection) FindByID(ctx context.Context, id string) (Document, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT id, doc, created_at, updated_at FROM documents WHERE collection = ? AND id = ?",
		c.name, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return doc, nil
}

// Find はフィルタに一致するドキュメントを作成日時の降順で返す。
// skip件スキップし、最大limit件を返す。
func (c *Collection) Find(ctx context.Context, f *Filter, skip, limit int) ([]Document, error) {
	where, args := f.where()
	query := "SELECT id, doc, created_at, updated_at FROM documents WHERE collection = ?" +
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	queryArgs := append([]any{c.name}, args...)
	queryArgs = append(queryArgs, limit, skip)

	rows, err := c.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの検索に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ドキュメントの読み取りに失敗: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count はフィルタに一致するドキュメントの件数を返す。
func (c *Collection) Count(ctx context.Context, f *Filter) (int64, error) {
	where, args := f.where()
	query := "SELECT COUNT(*) FROM documents WHERE collection = ?" + where
	queryArgs := append([]any{c.name}, args...)

	var total int64
	if err := c.db.QueryRowContext(ctx, query, queryArgs...).Scan(&total); err != nil {
		return 0, fmt.Errorf("ドキュメントの件数取得に失敗: %w", err)
	}
	return total, nil
}

// Update は指定されたIDのドキュメントにfieldsの内容をマージし、更新日時を設定する。
// fieldsに含まれないフィールドは変更しない。存在しない場合はErrNotFoundを返す。
func (c *Collection) Update(ctx context.Context, id string, fields map[string]any, now time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT doc FROM documents WHERE collection = ? AND id = ?", c.name, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}

	current := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}
	for name, value := range fields {
		current[name] = value
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET doc = ?, updated_at = ? WHERE collection = ? AND id = ?",
		string(merged), formatTime(now), c.name, id); err != nil {
		return fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}

	return tx.Commit()
}

// Delete は指定されたIDのドキュメントを削除する。
// 削除された場合はtrueを、該当ドキュメントが存在しなかった場合はfalseを返す。
func (c *Collection) Delete(ctx context.Context, id string) (bool, error) {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", c.name, id)
	if err != nil {
		return false, fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return affected > 0, nil
}

// scanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument は1行をDocumentに変換する。
// タイムスタンプがNULLまたは不正な形式の場合はゼロ値のまま返す。
func scanDocument(s scanner) (Document, error) {
	var (
		id        string
		raw       string
		createdAt sql.NullString
		updatedAt sql.NullString
	)
	if err := s.Scan(&id, &raw, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Document{}, fmt.Errorf("ドキュメントのデシリアライズに失敗: %w", err)
	}

	return Document{
		ID:        id,
		Fields:    fields,
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}, nil
}

// formatTime はタイムスタンプを格納用文字列に変換する。ゼロ値はNULLとして格納する。
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

// parseTime は格納されたタイムスタンプ文字列を解析する。
// 小数部の桁数が異なる値も受け付けるためRFC3339Nanoで解析し、
// NULLまたは解析できない値はゼロ値として扱う。
func parseTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

package studyhub

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/studyhub/internal/docstore"
)

const (
	// DefaultPageSize は一覧取得のデフォルト件数。
	DefaultPageSize = 20
	// MaxPageSize は一覧取得の最大件数。
	MaxPageSize = 100
)

// resourceHandler は1つのリソース種別に対するCRUD APIハンドラ群。
// 3つのリソース（notes / papers / syllabi）で同じ実装を共有する。
type resourceHandler struct {
	// def はリソース種別のスキーマ定義。
	def Definition
	// col は対応するコレクションハンドル。
	col *docstore.Collection
}

// newResourceHandler はリソース定義とコレクションハンドルからハンドラ群を生成する。
func newResourceHandler(def Definition, col *docstore.Collection) *resourceHandler {
	return &resourceHandler{def: def, col: col}
}

// register はルータグループにリソースのルーティングを登録する。
// 読み取り系は認証不要、書き込み系はrequireAdminで保護する。
func (h *resourceHandler) register(group *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	r := group.Group("/" + h.def.Name)
	{
		// 一覧取得（ページネーション付き）
		r.GET("", h.handleList())
		// キーワード検索
		r.GET("/search", h.handleSearch())
		// 詳細取得
		r.GET("/:id", h.handleGet())
		// 作成（管理者のみ）
		r.POST("", requireAdmin, h.handleCreate())
		// 更新（管理者のみ）
		r.PUT("/:id", requireAdmin, h.handleUpdate())
		// 削除（管理者のみ）
		r.DELETE("/:id", requireAdmin, h.handleDelete())
	}
}

// parsePagination はskip/limitクエリパラメータを解析・検証する。
// 未指定の場合はskip=0、limit=DefaultPageSizeを返す。
func parsePagination(c *gin.Context) (int, int, error) {
	skip := 0
	limit := DefaultPageSize

	if v := c.Query("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("skip は0以上の整数で指定してください")
		}
		skip = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageSize {
			return 0, 0, fmt.Errorf("limit は1以上%d以下の整数で指定してください", MaxPageSize)
		}
		limit = n
	}
	return skip, limit, nil
}

// formatTimestamp はタイムスタンプをISO-8601文字列に変換する。
// タイムスタンプが格納されていない過去データは現在時刻で補完する。
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// toResponse はドキュメントを外部レスポンス形式に変換する。
// 内部の識別子は常に "id" として公開し、全スキーマフィールドを含める
// （未設定の文字列はnull、未設定の配列は空配列）。
func (h *resourceHandler) toResponse(doc docstore.Document) gin.H {
	resp := gin.H{"id": doc.ID}
	for _, f := range h.def.Fields {
		v, ok := doc.Fields[f.Name]
		if !ok || v == nil {
			if f.Kind == KindList {
				resp[f.Name] = []any{}
			} else {
				resp[f.Name] = nil
			}
			continue
		}
		resp[f.Name] = v
	}
	resp["created_at"] = formatTimestamp(doc.CreatedAt)
	resp["updated_at"] = formatTimestamp(doc.UpdatedAt)
	return resp
}

// toResponses はドキュメントスライスを外部レスポンス形式のスライスに変換する。
func (h *resourceHandler) toResponses(docs []docstore.Document) []gin.H {
	responses := make([]gin.H, 0, len(docs))
	for _, doc := range docs {
		responses = append(responses, h.toResponse(doc))
	}
	return responses
}

// handleList はページネーション付きの一覧取得を処理するハンドラを返す。
// totalはフィルタなしの全件数を返す。
func (h *resourceHandler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		skip, limit, err := parsePagination(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		total, err := h.col.Count(c.Request.Context(), nil)
		if err != nil {
			log.Printf("%s一覧の件数取得エラー: %v", h.def.Label, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		docs, err := h.col.Find(c.Request.Context(), nil, skip, limit)
		if err != nil {
			log.Printf("%s一覧の取得エラー: %v", h.def.Label, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		log.Printf("%s一覧を取得: %d件 (skip=%d, limit=%d)", h.def.Label, len(docs), skip, limit)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    h.toResponses(docs),
			"pagination": gin.H{
				"total":    total,
				"skip":     skip,
				"limit":    limit,
				"returned": len(docs),
			},
		})
	}
}

// handleSearch はキーワード検索を処理するハンドラを返す。
// 検索語が文字列フィールドの部分一致または配列フィールドの要素に一致する
// ドキュメントを返す。totalはフィルタ後の件数を返す。
func (h *resourceHandler) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Query("q")
		if q == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "検索クエリ(q)が必要です"})
			return
		}

		skip, limit, err := parsePagination(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		filter := h.def.searchFilter(q)
		total, err := h.col.Count(c.Request.Context(), filter)
		if err != nil {
			log.Printf("%s検索の件数取得エラー (q=%q): %v", h.def.Label, q, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		docs, err := h.col.Find(c.Request.Context(), filter, skip, limit)
		if err != nil {
			log.Printf("%s検索エラー (q=%q): %v", h.def.Label, q, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		log.Printf("%s検索 %q: %d件ヒット", h.def.Label, q, len(docs))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"query":   q,
			"data":    h.toResponses(docs),
			"pagination": gin.H{
				"total":    total,
				"skip":     skip,
				"limit":    limit,
				"returned": len(docs),
			},
		})
	}
}

// handleCreate はリソース作成を処理するハンドラを返す。
// スキーマ検証後にUUIDを採番し、作成日時と更新日時を現在時刻に設定して挿入する。
func (h *resourceHandler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload map[string]any
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("リクエストボディが不正です: %v", err)})
			return
		}

		if err := h.def.validate(payload, true); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		now := time.Now().UTC()
		doc := docstore.Document{
			ID:        uuid.New().String(),
			Fields:    h.def.normalize(payload),
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := h.col.Insert(c.Request.Context(), doc); err != nil {
			log.Printf("%s作成エラー: %v", h.def.Label, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		log.Printf("%sを作成しました: %s", h.def.Label, doc.ID)
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": fmt.Sprintf("%sを作成しました", h.def.Label),
			"data":    h.toResponse(doc),
		})
	}
}

// handleGet は詳細取得を処理するハンドラを返す。
func (h *resourceHandler) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		doc, err := h.col.FindByID(c.Request.Context(), id)
		if errors.Is(err, docstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("%sが見つかりません", h.def.Label)})
			return
		}
		if err != nil {
			log.Printf("%s取得エラー (id=%s): %v", h.def.Label, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		log.Printf("%sを取得しました: %s", h.def.Label, id)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": h.toResponse(doc)})
	}
}

// handleUpdate は部分更新を処理するハンドラを返す。
// リクエストボディに含まれるフィールドのみを適用し、
// 含まれないフィールドは変更しない（exclude-unsetセマンティクス）。
func (h *resourceHandler) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		if _, err := h.col.FindByID(c.Request.Context(), id); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("%sが見つかりません", h.def.Label)})
				return
			}
			log.Printf("%s取得エラー (id=%s): %v", h.def.Label, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		var payload map[string]any
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("リクエストボディが不正です: %v", err)})
			return
		}

		if err := h.def.validate(payload, false); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}

		updates := h.def.pick(payload)
		if err := h.col.Update(c.Request.Context(), id, updates, time.Now().UTC()); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("%sが見つかりません", h.def.Label)})
				return
			}
			log.Printf("%s更新エラー (id=%s): %v", h.def.Label, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		log.Printf("%sを更新しました: %s", h.def.Label, id)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("%sを更新しました", h.def.Label),
		})
	}
}

// handleDelete は削除を処理するハンドラを返す。
// 削除対象が存在しない場合は404を返す（存在しないものの削除はエラーのまま）。
func (h *resourceHandler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if h.col == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "データベースに接続されていません"})
			return
		}

		deleted, err := h.col.Delete(c.Request.Context(), id)
		if err != nil {
			log.Printf("%s削除エラー (id=%s): %v", h.def.Label, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("%sが見つかりません", h.def.Label)})
			return
		}

		log.Printf("%sを削除しました: %s", h.def.Label, id)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("%sを削除しました", h.def.Label),
		})
	}
}

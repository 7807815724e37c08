package studyhub

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/studyhub/internal/docstore"
	"github.com/nao1215/studyhub/pkg/middleware"
)

// Server は学習リソースAPIのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はドキュメントストア。
	store *docstore.Store
	// jwtSecret はセッショントークンの署名鍵。
	jwtSecret string
}

// NewServer は新しいサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("DB_PATH", "/data/studyhub.db")
	store, err := docstore.Open(dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")
	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:    router,
		port:      port,
		store:     store,
		jwtSecret: jwtSecret,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Shutdown はデータベース接続を閉じる。
func (s *Server) Shutdown() error {
	return s.store.Close()
}

// setupRoutes はAPIルーティングを設定する。
// 読み取り系のエンドポイントは認証不要、書き込み系は管理者セッションを要求する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行
	s.router.POST("/auth/dev-token", s.handleDevToken())

	requireAdmin := middleware.RequireAdmin(s.jwtSecret)

	api := s.router.Group("/api/v1")
	{
		// 現在のセッション情報
		api.GET("/me", middleware.RequireSession(s.jwtSecret), s.handleMe())

		for _, def := range Definitions() {
			h := newResourceHandler(def, s.store.Collection(def.Name))
			h.register(api, requireAdmin)
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "studyhub"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// IsAdmin は管理者権限を付与するかどうか。
	IsAdmin bool `json:"is_admin"`
}

// handleDevToken は開発用のセッショントークン発行を処理するハンドラを返す。
// ランダムなサブジェクトでトークンを生成し、Cookieとして設定する。
// 本番環境では無効化すべきエンドポイント。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		// ボディなしのリクエストは一般ユーザーのトークンとして扱う
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("リクエストボディが不正です: %v", err)})
			return
		}

		subject := uuid.New().String()
		token, err := middleware.GenerateToken(s.jwtSecret, subject, req.IsAdmin)
		if err != nil {
			log.Printf("トークン生成エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "トークンの生成に失敗しました"})
			return
		}

		c.SetCookie(middleware.CookieName, token, 24*60*60, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"subject":  subject,
			"is_admin": req.IsAdmin,
		})
	}
}

// handleMe は現在のセッション情報の取得を処理するハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.GetClaims(c)
		if claims == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "認証トークンがありません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"subject":  claims.Subject,
				"is_admin": claims.IsAdmin,
			},
		})
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

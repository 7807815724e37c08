package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims はセッショントークンのクレーム（ペイロード）を表す。
// 管理者フラグを含み、書き込み系エンドポイントの認可判定に使用する。
type SessionClaims struct {
	jwt.RegisteredClaims
	// IsAdmin は管理者権限を持つセッションかどうかを示す。
	IsAdmin bool `json:"is_admin"`
}

// CookieName はセッショントークンを格納するCookieの名前。
const CookieName = "token"

// contextKeyClaims はGinコンテキストに検証済みクレームを格納するキー。
const contextKeyClaims = "session_claims"

// tokenIssuer はこのサービスが発行するトークンのissuer。
const tokenIssuer = "studyhub"

// GenerateToken は対象ユーザーのセッショントークンを生成する。
// ログイン処理および開発用トークン発行エンドポイントが呼び出す。
func GenerateToken(secret, subject string, isAdmin bool) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		IsAdmin: isAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// authenticate はCookieからセッショントークンを取り出して検証する。
// 失敗時はレスポンスを書き込んでリクエストを中断し、nilを返す。
// 成功時は検証済みクレームをコンテキストに設定して返す。
func authenticate(c *gin.Context, secret string) *SessionClaims {
	tokenString, err := c.Cookie(CookieName)
	if err != nil || tokenString == "" {
		log.Printf("[auth] セッション検証に失敗: トークンCookieがありません")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"detail": "認証トークンがありません",
		})
		return nil
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		log.Printf("[auth] トークン検証エラー: %v", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"detail": "トークンが無効です",
		})
		return nil
	}

	c.Set(contextKeyClaims, claims)
	return claims
}

// RequireSession は有効なセッションを要求するGinミドルウェアを返す。
// 検証に成功した場合、クレームをコンテキストに設定して後続処理へ進む。
func RequireSession(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, secret) == nil {
			return
		}
		c.Next()
	}
}

// RequireAdmin は管理者セッションを要求するGinミドルウェアを返す。
// RequireSessionと同じ検証を行ったうえで、is_adminクレームを確認する。
// セッション検証と管理者判定を同じゲートで共有することで、
// 有効だが管理者でないユーザーが書き込みを通過することを防ぐ。
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := authenticate(c, secret)
		if claims == nil {
			return
		}

		if !claims.IsAdmin {
			log.Printf("[auth] 管理者検証に失敗: 管理者権限のないユーザー %s", claims.Subject)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"detail": "管理者権限が必要です",
			})
			return
		}

		c.Next()
	}
}

// GetClaims はGinコンテキストから検証済みセッションクレームを取得する。
// RequireSessionまたはRequireAdminが事前に適用されている必要がある。
func GetClaims(c *gin.Context) *SessionClaims {
	v, _ := c.Get(contextKeyClaims)
	if claims, ok := v.(*SessionClaims); ok {
		return claims
	}
	return nil
}

package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

const actorKey = "actor_id"

// ActorID 当前请求的操作者ID（JWT sub）
func ActorID(c *gin.Context) string {
	return c.GetString(actorKey)
}

// JWTAuth 校验 Bearer token（HS256），sub 写入上下文；角色不从 token 读取
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}
		if claims.Subject == "" {
			response.Unauthorized(c, "token has no subject")
			c.Abort()
			return
		}
		c.Set(actorKey, claims.Subject)
		c.Next()
	}
}

// AdminResolver 按 users 表判断管理员
type AdminResolver interface {
	IsAdmin(ctx context.Context, actorID string) (bool, error)
}

func RequireAdmin(resolver AdminResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := resolver.IsAdmin(c.Request.Context(), ActorID(c))
		if err != nil {
			response.InternalError(c, err)
			c.Abort()
			return
		}
		if !ok {
			response.Forbidden(c, "admin only")
			c.Abort()
			return
		}
		c.Next()
	}
}

var errBadWebhookToken = errors.New("invalid webhook token")

// WebhookToken 支付回调共享密钥
func WebhookToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Webhook-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			_ = c.Error(errBadWebhookToken)
			response.Unauthorized(c, errBadWebhookToken.Error())
			c.Abort()
			return
		}
		c.Next()
	}
}

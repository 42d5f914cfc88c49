package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jobport/internal/auth"
)

// IdentityKey 是调用方身份在 gin 上下文中的键。
const IdentityKey = "identity"

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"data":    nil,
		"message": message,
	})
}

// AuthMiddleware 解析 Bearer 凭证并将调用方身份注入上下文。
// 缺失与无效凭证返回不同的消息，便于客户端区分。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "No token provided")
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "No token provided")
			return
		}

		rawToken := strings.TrimSpace(parts[1])
		if rawToken == "" {
			abortUnauthorized(c, "No token provided")
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil {
			abortUnauthorized(c, "Invalid token")
			return
		}

		c.Set(IdentityKey, auth.Identity{
			UserID: claims.UserID,
			Name:   claims.Name,
			Phone:  claims.Phone,
			Email:  claims.Email,
			Role:   claims.Role,
		})
		c.Next()
	}
}

// Identity 从上下文取出调用方身份。
func Identity(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

// RequireRole 在路由注册时声明操作所需的角色，统一替代散落在
// 各处理器里的角色判断。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := Identity(c)
		if !ok {
			abortUnauthorized(c, "No token provided")
			return
		}
		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"data":    nil,
			"message": "You are not allowed to perform this action",
		})
	}
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
	"sudooom.im.ripple/pkg/jwt"
	"sudooom.im.ripple/pkg/response"
)

const keyIdentity = "identity"

// CurrentFunc 返回当前会话身份
type CurrentFunc func() *model.Identity

// JWTAuth JWT 认证中间件，令牌必须属于当前会话身份
func JWTAuth(jwtService *jwt.Service, current CurrentFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			// 浏览器 WebSocket 无法设置请求头
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c, appErrors.ErrNotAuthenticated)
			return
		}

		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, err)
			return
		}

		identity := current()
		if identity == nil || identity.ID != claims.UserID {
			response.Unauthorized(c, appErrors.ErrNotAuthenticated)
			return
		}

		c.Set(keyIdentity, identity)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetIdentity 从 context 获取认证时的身份
func GetIdentity(c *gin.Context) *model.Identity {
	v, ok := c.Get(keyIdentity)
	if !ok {
		return nil
	}
	identity, _ := v.(*model.Identity)
	return identity
}

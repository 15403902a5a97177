package middleware

import (
	"context"
	"strings"

	"SignalCAD/internal/pkg/errs"

	"github.com/gin-gonic/gin"
)

const ContextUserIDKey = "user_id"

// Authenticator 校验 token 并返回其绑定的用户
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uint64, error)
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			Abort(c, errs.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			Abort(c, errs.Unauthorized("invalid authorization format"))
			return
		}

		userID, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			Abort(c, err)
			return
		}

		// 注入 user_id
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// UserID 取出鉴权中间件注入的调用者
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok && id != 0
}

// Abort 按错误类别写响应体 {"kind","msg"}，不暴露内部细节
func Abort(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if kind == errs.KindInternal || kind == errs.KindTransient {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{"kind": kind, "msg": errs.Message(err)})
}

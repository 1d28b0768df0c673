package middleware

import (
	"crypto/subtle"

	"prohappy_backend/internal/logger"
	"prohappy_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware - доступ к операторским маршрутам по статическому токену
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(AdminTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			logger.CtxWarn(c.Request.Context(), "Operator access denied",
				"path", c.Request.URL.Path,
				"ip", c.ClientIP(),
			)
			apperrors.HandleError(c, apperrors.NewUnauthorizedError("Invalid or missing admin token"))
			return
		}
		c.Next()
	}
}

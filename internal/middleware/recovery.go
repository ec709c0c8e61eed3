package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/response"
)

var errMethodNotAllowed = appErrors.New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)

// Recovery turns a handler panic into the standard 500 envelope. The panic
// value and stack go to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.WithModule("http").Error("handler panic",
				zap.String("route", c.FullPath()),
				zap.String("request_id", c.GetString(requestIDKey)),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			if !c.Writer.Written() {
				response.Error(c, appErrors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

func NotFoundHandler(c *gin.Context) {
	response.Error(c, appErrors.ErrNotFound.WithMessage("route "+c.Request.URL.Path+" not found"))
}

func MethodNotAllowedHandler(c *gin.Context) {
	response.Error(c, errMethodNotAllowed)
}

package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/reporter"
	"github.com/noah-isme/questplus-school-api/pkg/response"
)

// Recovery turns panics into 500 envelopes and reports them together with
// every other 5xx response.
func Recovery(rep reporter.Reporter, logger *zap.Logger) gin.HandlerFunc {
	if rep == nil {
		rep = reporter.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(recovered)
			}
			logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("route", c.FullPath()), zap.Stack("stack"))
			rep.Panic(c.Request, recovered)
			if !c.Writer.Written() {
				response.Error(c, appErrors.ErrInternal)
			}
			c.Abort()
		}()

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError && len(c.Errors) > 0 {
			rep.Error(c.Request, c.Errors.Last().Err, map[string]interface{}{
				"route":   c.FullPath(),
				"status":  c.Writer.Status(),
				"user_id": CurrentUserID(c),
			})
		}
	}
}

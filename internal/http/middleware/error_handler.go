package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"derukkies.com/app/internal/shared/apperr"
)

func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler renders the JSON error envelope for any error pushed through
// Fail. The envelope always carries the machine-readable code under "error";
// detail and field data ride alongside when present.
func ErrorHandler(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := apperr.HTTPStatus(err)
		rid := GetRequestID(c)

		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}
		l.LogAttrs(c.Request.Context(), level, "request_failed",
			slog.String("request_id", rid),
			slog.Int("status", status),
			slog.Any("err", err),
		)

		payload := gin.H{
			"error":      apperr.Code(err),
			"request_id": rid,
		}
		if ae, ok := apperr.As(err); ok {
			if ae.Detail != "" {
				payload["detail"] = ae.Detail
			}
			if ae.Field != "" {
				payload["field"] = ae.Field
			}
			if len(ae.Fields) > 0 {
				payload["fields"] = ae.Fields
			}
			for k, v := range ae.Meta {
				payload[k] = v
			}
		}
		c.AbortWithStatusJSON(status, payload)
	}
}

package log

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GinMiddleware tags every request with an X-Request-ID, stores a request
// logger in the request context and logs the outcome together with the
// authenticated actor, if any. Requests to skipPaths (probes, scrapes,
// long-lived websockets) are served without a completion line.
func GinMiddleware(logger zerolog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := newPathSet(skipPaths)

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		req := beginRequest(logger, c.GetHeader(headerRequestID), c.Request.Method, path, c.ClientIP(), skip.has(path))

		c.Header(headerRequestID, req.id)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), req.logger))

		c.Next()

		req.end(c.Writer.Status(), func(e *zerolog.Event) {
			if userID := c.GetString(FieldUserID); userID != "" {
				e.Str(FieldUserID, userID)
			}
			if name := c.GetString(FieldUsername); name != "" {
				e.Str(FieldUsername, name)
			}
			if role := c.GetString(FieldRole); role != "" {
				e.Str(FieldRole, role)
			}
			if len(c.Errors) > 0 {
				e.Str("errors", c.Errors.String())
			}
		})
	}
}

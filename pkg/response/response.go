// Package response writes the JSON envelope shared by every HTTP API in the
// repository: {"success": bool, "data": ..., "error": {"code", "message"}}.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// CodeUnavailable has no websocket counterpart; it is only used over HTTP.
const CodeUnavailable = "UNAVAILABLE"

type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo carries the same codes as the websocket error event.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// Error aborts the handler chain with an error body.
func Error(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{Error: &ErrorInfo{Code: code, Message: message}})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, protocol.ErrCodeBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, protocol.ErrCodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, protocol.ErrCodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, protocol.ErrCodeNotFound, message)
}

func Unavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, CodeUnavailable, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, protocol.ErrCodeInternalError, message)
}

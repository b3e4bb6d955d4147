package response

import (
	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type Meta struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
	Total int `json:"total"`
}

// Success writes the standard success envelope.
func Success(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func SuccessWithMeta(c *gin.Context, statusCode int, message string, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}

// Error writes the failure envelope. details usually carries the domain error
// code and, for validation failures, the offending fields.
func Error(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Error:   details,
	})
}

// Abort is Error for middleware: nothing after it in the chain runs.
func Abort(c *gin.Context, statusCode int, message string, details interface{}) {
	Error(c, statusCode, message, details)
	c.Abort()
}

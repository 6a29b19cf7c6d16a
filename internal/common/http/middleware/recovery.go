package middleware

import (
	"fmt"

	"codeexec/pkg/errors"
	"codeexec/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a JSON internal error carrying the trace id.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		response.AbortWithError(c, errors.InternalError(fmt.Errorf("panic: %v", recovered)))
	})
}

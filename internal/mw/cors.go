package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS opens the API to arbitrary origins. The dashboard is served from
// a different origin than the API, and the write endpoint is gated only
// by the optional shared secret.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Preflight requests get an empty 200 and never reach a handler.
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// APIKey guards the API with a static key set. An empty key list
// disables the check (local development).

func APIKey(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		presented := c.GetHeader(apiKeyHeader)
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "unauthorized",
				"message": "Missing or invalid API key",
			},
		})
	}
}

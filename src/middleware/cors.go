package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/config"
)

// CORS allows credentialed cross-origin requests from the configured
// whitelist only. An empty whitelist denies all cross-origin callers.
func CORS(cfg *config.Config, logger *logrus.Logger) gin.HandlerFunc {
	allowedOrigins := cfg.CORSOrigins

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && isOriginAllowed(origin, allowedOrigins) {
			reqHeaders := c.Request.Header.Get("Access-Control-Request-Headers")
			allowHeaders := "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, x-csrf-token, accept, origin, Cache-Control, X-Requested-With"
			if reqHeaders != "" {
				allowHeaders = allowHeaders + ", " + reqHeaders
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
			c.Header("Access-Control-Max-Age", "86400")
		} else if origin != "" {
			logger.WithFields(logrus.Fields{
				"origin": origin,
				"ip":     c.ClientIP(),
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			}).Warn("CORS: rejected origin not in whitelist")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

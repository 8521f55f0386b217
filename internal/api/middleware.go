package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "storefront_session"

	UserIDHeader    = "X-User-ID"
	UserEmailHeader = "X-User-Email"
	UserNameHeader  = "X-User-Name"

	sessionKey  = "session_id"
	customerKey = "customer"

	sessionCookieMaxAge = 30 * 24 * 60 * 60
)

// sessionMiddleware resolves the storefront session from the header or the
// cookie. Requests without a usable session get a new one.
func sessionMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(SessionHeader)
		if sessionID == "" {
			sessionID, _ = c.Cookie(SessionCookie)
		}

		if _, err := uuid.Parse(sessionID); err != nil {
			sessionID = uuid.New().String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, sessionID, sessionCookieMaxAge, "/", "", secure, true)
		}

		c.Header(SessionHeader, sessionID)
		c.Set(sessionKey, sessionID)
		c.Next()
	}
}

// customerMiddleware reads the signed-in customer forwarded by the gateway
func customerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(UserIDHeader); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "Invalid user ID",
				})
				return
			}
			c.Set(customerKey, &models.Customer{
				UserID: userID,
				Email:  strings.TrimSpace(c.GetHeader(UserEmailHeader)),
				Name:   strings.TrimSpace(c.GetHeader(UserNameHeader)),
			})
		}
		c.Next()
	}
}

// loggingMiddleware writes one structured line per request
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if sessionID, ok := c.Get(sessionKey); ok {
			fields = append(fields, zap.String("session_id", sessionID.(string)))
		}

		logger := util.GetLogger()
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}

func sessionFrom(c *gin.Context) string {
	return c.GetString(sessionKey)
}

func customerFrom(c *gin.Context) *models.Customer {
	value, ok := c.Get(customerKey)
	if !ok {
		return nil
	}
	customer, _ := value.(*models.Customer)
	return customer
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ratings-backend/internal/logger"
	"ratings-backend/internal/utils"
)

// Context keys set by RequireAuth.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

type AuthMiddleware struct {
	log           *logger.Logger
	jwtSecret     string
	callbackToken string
}

func NewAuthMiddleware(log *logger.Logger, jwtSecret, callbackToken string) *AuthMiddleware {
	return &AuthMiddleware{
		log:           log.With("middleware", "AuthMiddleware"),
		jwtSecret:     jwtSecret,
		callbackToken: callbackToken,
	}
}

// RequireAuth validates the bearer token and stores the caller identity on
// the gin context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		claims, err := utils.ParseToken(am.jwtSecret, tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// RequireRole gates an endpoint to one role. Must run after RequireAuth.
func (am *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireCallbackToken authenticates the decryption gateway's callback with a
// shared secret. The real trust decision is the proof check in the engine;
// this only keeps unauthenticated traffic from burning verifications.
func (am *AuthMiddleware) RequireCallbackToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if am.callbackToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(am.callbackToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller id from the gin context.
func UserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(CtxUserID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voicebridge-backend/pkg/jwt"
	"voicebridge-backend/pkg/logger"
)

// AuthMiddleware validates the signed identity token minted by the auth
// collaborator and sets user_id, phone and display_name in the Gin context.
// Connections without a valid token never reach the upgrade or any handler.
//
// Browsers cannot set headers on a WebSocket handshake, so a "token" query
// parameter is accepted as a fallback to the Authorization header.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			// The unverified subject is still useful when hunting down
			// clients presenting expired or mis-signed tokens.
			if userID, extractErr := jwtManager.ExtractUserID(tokenString); extractErr == nil {
				logger.Warn("rejected invalid token",
					zap.String("claimed_user_id", userID.String()),
					zap.Error(err))
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("phone", claims.Phone)
		c.Set("display_name", claims.DisplayName)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

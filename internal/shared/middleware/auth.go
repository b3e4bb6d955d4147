package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/shared/response"
	"owlfenc-backend/pkg/jwt"
)

// ContextUserID is the gin context key holding the authenticated owner id.
const ContextUserID = "user_id"

// AuthMiddleware verifies the identity provider's bearer token and stores the
// owner id under ContextUserID.
func AuthMiddleware(tokens *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Bearer token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Abort(c, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		// 2. Verify
		claims, err := tokens.ValidateAccessToken(parts[1])
		if err != nil {
			log.Debug().Err(err).Str("request_id", c.GetString("request_id")).Msg("Access token rejected")
			response.Abort(c, http.StatusUnauthorized, "Invalid token", nil)
			return
		}

		// 3. Owner id
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "Invalid user ID in token", nil)
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserID is the gin context key carrying the authenticated user id.
const ContextUserID = "userID"

// Claims is the marketplace session token payload.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// JWTAuth validates the session JWT from the Authorization header, falling
// back to the token query parameter for websocket upgrades, and stores the
// user id in the request context. Every core operation receives the viewer
// id explicitly from here; nothing reads ambient session state.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		userID, err := ParseUserID(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// ParseUserID verifies an HS256 session token and extracts the user id.
func ParseUserID(secret, tokenString string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid || claims.UserID == 0 {
		return 0, errInvalidToken
	}
	return claims.UserID, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// UserID reads the authenticated user id set by JWTAuth.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserID)
}

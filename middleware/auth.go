package middleware

import (
	"net/http"
	"strings"
	"time"

	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity carried by every API token. The role is trusted
// only after the signature has been verified.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Context keys set by AuthMiddleware.
const (
	ContextUserID = "userID"
	ContextEmail  = "email"
	ContextRole   = "role"
)

// AuthMiddleware validates the bearer token and stores the caller identity
// in the gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Authorization header is required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Invalid or expired token"})
			c.Abort()
			return
		}

		role, err := workflow.ParseRole(claims.Role)
		if err != nil || strings.TrimSpace(claims.UserID) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Invalid token claims"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextRole, role)

		c.Next()
	}
}

// RequireRole lets the request through only for the given roles.
func RequireRole(roles ...workflow.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, userRole, ok := Identity(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Role not found"})
			c.Abort()
			return
		}

		for _, role := range roles {
			if userRole == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Insufficient permissions"})
		c.Abort()
	}
}

// Identity returns the caller set by AuthMiddleware.
func Identity(c *gin.Context) (userID string, role workflow.Role, ok bool) {
	rawID, idOK := c.Get(ContextUserID)
	rawRole, roleOK := c.Get(ContextRole)
	if !idOK || !roleOK {
		return "", "", false
	}
	userID, idOK = rawID.(string)
	role, roleOK = rawRole.(workflow.Role)
	return userID, role, idOK && roleOK
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GenerateToken signs a token for userID with the given role.
func GenerateToken(secret, userID, email string, role workflow.Role, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

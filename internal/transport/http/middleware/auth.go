package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const errUnauthorized = "Unauthorized"

// CallerKey is the gin context key holding the token subject.
const CallerKey = "caller"

// Auth validates an HS256 Bearer JWT and sets CallerKey to its subject.
// An empty key disables the check; every request passes as caller "local".
func Auth(jwtKey []byte) gin.HandlerFunc {
	if len(jwtKey) == 0 {
		return func(c *gin.Context) {
			c.Set(CallerKey, "local")
			c.Next()
		}
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		var claims jwt.RegisteredClaims
		token, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &claims, func(*jwt.Token) (any, error) {
			return jwtKey, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(CallerKey, claims.Subject)
		c.Next()
	}
}

package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Authenticator guards the mutating surface (upload, audit, source
// deletion). The index
// itself is world-readable; only routes that can grow or rewrite it require
// a bearer token. The token is fixed at startup — an empty token means dev
// mode, where everything is open.
type Authenticator struct {
	tokenDigest []byte // sha256 of the configured token; nil in dev mode
}

// NewAuthenticator builds the guard from the configured token. The token is
// digested immediately so the plaintext never sits in the handler closure,
// and comparisons run over fixed-length digests.
func NewAuthenticator(token string, releaseMode bool) *Authenticator {
	if token == "" {
		if releaseMode {
			log.Println("[Auth] WARNING: no API token configured in release mode; " +
				"upload, audit and source deletion routes are open to anyone who can reach this port")
		}
		return &Authenticator{}
	}
	digest := sha256.Sum256([]byte(token))
	return &Authenticator{tokenDigest: digest[:]}
}

// RequireToken returns the middleware for mutating routes.
func (a *Authenticator) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.tokenDigest == nil {
			c.Next()
			return
		}

		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || presented == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "This route modifies the index and requires a bearer token",
				"hint":  "Authorization: Bearer <API_AUTH_TOKEN>",
			})
			c.Abort()
			return
		}

		// Digesting both sides keeps the comparison constant-time without
		// leaking the configured token's length.
		presentedDigest := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(presentedDigest[:], a.tokenDigest) != 1 {
			log.Printf("[Auth] Rejected token for %s %s from %s", c.Request.Method, c.FullPath(), c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

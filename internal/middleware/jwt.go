package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"

	// context keys set by RequireAuth
	CtxAgentID = "agent_id"
	CtxRole    = "role"
)

// Claims carries the identity issued by the identity service. AgentID falls
// back to the subject claim.
type Claims struct {
	AgentID string `json:"agent_id,omitempty"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() string {
	if c.AgentID != "" {
		return c.AgentID
	}
	return c.Subject
}

type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// GenerateToken signs an HS256 token; used by tooling and tests, issuance
// proper belongs to the identity service.
func (a *Auth) GenerateToken(agentID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Identity() == "" {
		return nil, errors.New("token carries no identity")
	}
	return claims, nil
}

// RequireAuth ensures a valid JWT is present
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := a.authenticate(c); !ok {
			return
		}
		c.Next()
	}
}

// RequireAuthWithRole ensures the JWT is valid and carries one of roles. The
// rest of the chain only runs when both hold.
func (a *Auth) RequireAuthWithRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// authenticate validates the bearer token and stores the identity on c. On
// failure it aborts with 401. It never advances the chain.
func (a *Auth) authenticate(c *gin.Context) (*Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
		return nil, false
	}

	claims, err := a.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return nil, false
	}

	// Store claims in context for downstream handlers
	c.Set(CtxAgentID, claims.Identity())
	c.Set(CtxRole, claims.Role)
	return claims, true
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

// Authenticator verifies bearer tokens issued by the external auth service
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an HS256 token verifier. An empty issuer skips
// the iss check.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Require rejects requests without a valid token and stores the Actor in
// the gin context
func (a *Authenticator) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		actor, err := a.Parse(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			unauth(c, "invalid_token", err.Error())
			return
		}
		actor.IP = c.ClientIP()

		c.Set(actorKey, actor)
		c.Next()
	}
}

// Parse validates raw and maps its claims to an Actor. sub carries the
// numeric user id and roles the role names.
func (a *Authenticator) Parse(raw string) (models.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return models.Actor{}, fmt.Errorf("invalid jwt")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, fmt.Errorf("claims parsing error")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return models.Actor{}, fmt.Errorf("missing subject")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID < 1 {
		return models.Actor{}, fmt.Errorf("subject is not a user id")
	}

	return models.Actor{UserID: userID, Roles: extractRoles(claims)}, nil
}

// Sign issues a token for actor. Used by tests and local tooling.
func (a *Authenticator) Sign(actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(actor.UserID, 10),
		"roles": actor.Roles,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractRoles(claims jwt.MapClaims) []string {
	var out []string
	if arr, ok := claims["roles"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// RequireOperator lets only sellers and admins through
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).IsOperator() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message": "Operator role required",
				"error":   "forbidden",
			})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": desc, "error": code})
}

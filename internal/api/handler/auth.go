package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/support"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	actorKey = "actor"
	issuer   = "supportchat-service"
)

// Claims identify a chat participant.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

// IssueToken signs a token for the given identity.
func (a *Authenticator) IssueToken(userID string, role models.Role, name, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		Name:   name,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates the token and returns the actor it names.
func (a *Authenticator) Parse(tokenString string) (support.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return support.Actor{}, err
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok || claims.UserID == "" {
		return support.Actor{}, fmt.Errorf("token carries no usable identity")
	}
	return support.Actor{ID: claims.UserID, Name: claims.Name, Email: claims.Email, Role: role}, nil
}

// tokenFrom reads "Authorization: Bearer ..." or, for EventSource and
// browser WebSocket clients that cannot set headers, the token query param.
func tokenFrom(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errors.New("invalid authorization header")
		}
		return parts[1], nil
	}
	if token := strings.TrimPrefix(c.Query("token"), "Bearer "); token != "" {
		return token, nil
	}
	return "", errors.New("authorization token missing")
}

// RequireAuth rejects anonymous requests and records the caller's profile.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFrom(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		actor, err := h.Auth.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}

		if err := h.Service.RegisterParticipant(c.Request.Context(), actor); err != nil {
			log.Printf("ERROR: [Auth] Failed to register participant %s: %v", actor.ID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireRoles lets only the listed roles through. Use after RequireAuth.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func actorFrom(c *gin.Context) support.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(support.Actor); ok {
			return actor
		}
	}
	return support.Actor{}
}

// GetGuestToken creates an anonymous customer identity for visitors who
// open the widget without a platform account.
func (h *Handler) GetGuestToken(c *gin.Context) {
	guestUUID, _ := uuid.NewRandom()
	guestID := "guest-" + guestUUID.String()

	token, err := h.Auth.IssueToken(guestID, models.RoleCustomer, "Guest", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userId": guestID})
}

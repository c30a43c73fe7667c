package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mapmo/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	tokenIssuer   = "mapmo-service"
	userIDKey     = "user_id"
	anonIDClaim   = "anon_id"
	bearerPrefix  = "Bearer "
	tokenQueryKey = "token"
)

var errInvalidToken = errors.New("invalid token")

// TokenIssuer signs and verifies the anonymous identity tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token bound to userID.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	claims := jwt.MapClaims{
		anonIDClaim: userID,
		"exp":       t.now().Add(t.ttl).Unix(),
		"iss":       tokenIssuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies the token and returns the user id it carries.
func (t *TokenIssuer) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	userID, _ := claims[anonIDClaim].(string)
	if userID == "" {
		return "", errInvalidToken
	}
	return userID, nil
}

// AuthRequired accepts a bearer header or, for WebSocket upgrades, a token query parameter.
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query(tokenQueryKey)
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, bearerPrefix) {
			tokenString = strings.TrimPrefix(header, bearerPrefix)
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
			return
		}
		userID, err := h.Tokens.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

type profileRequest struct {
	Nickname         string   `json:"nickname" binding:"omitempty,max=64"`
	Gender           string   `json:"gender" binding:"omitempty,max=32"`
	Language         string   `json:"language" binding:"omitempty,max=8"`
	PreferredGenders []string `json:"preferred_genders"`
	Needs            []string `json:"needs"`
	Interests        []string `json:"interests"`
}

func (p profileRequest) applyTo(u *models.User) {
	if p.Nickname != "" {
		u.Nickname = p.Nickname
	}
	if p.Gender != "" {
		u.Gender = p.Gender
	}
	if p.Language != "" {
		u.Language = p.Language
	}
	if p.PreferredGenders != nil {
		u.PreferredGenders = pq.StringArray(p.PreferredGenders)
	}
	if p.Needs != nil {
		u.Needs = pq.StringArray(p.Needs)
	}
	if p.Interests != nil {
		u.Interests = pq.StringArray(p.Interests)
	}
}

// GetAnonID creates an anonymous user, optionally with a profile, and returns its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	var req profileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	user := &models.User{ID: uuid.NewString(), Language: h.Language}
	req.applyTo(user)
	if err := h.Store.SaveUser(c.Request.Context(), user); err != nil {
		h.fail(c, err)
		return
	}

	token, err := h.Tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": user.ID})
}

// UpdateProfile edits the caller's profile. Omitted fields are left unchanged.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	user, err := h.Store.GetUser(ctx, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	req.applyTo(user)
	if err := h.Store.SaveUser(ctx, user); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "profile_complete": user.IsProfileComplete()})
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

const headerOwnerID = "X-Owner-Id"

type AuthConfig struct {
	// Secret verifies HS256 bearer tokens; the subject claim is the owner id.
	Secret string
	// Disabled accepts the X-Owner-Id header when no token is sent. Development only.
	Disabled bool
}

type AuthMiddleware struct {
	log      *logger.Logger
	secret   []byte
	disabled bool
}

func NewAuthMiddleware(log *logger.Logger, cfg AuthConfig) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	if cfg.Disabled {
		middlewareLogger.Warn("auth disabled; owner taken from the " + headerOwnerID + " header")
	}
	return &AuthMiddleware{log: middlewareLogger, secret: []byte(cfg.Secret), disabled: cfg.Disabled}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		var ownerID string
		switch {
		case tokenString != "":
			sub, err := am.ownerFromToken(tokenString)
			if err != nil {
				am.log.Debug("token rejected", "error", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{"message": "invalid or expired token", "code": "unauthorized"},
				})
				return
			}
			ownerID = sub
		case am.disabled:
			ownerID = strings.TrimSpace(c.GetHeader(headerOwnerID))
		}
		if ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithOwnerID(c.Request.Context(), ownerID))
		c.Set("owner_id", ownerID)
		c.Next()
	}
}

func (am *AuthMiddleware) ownerFromToken(tokenString string) (string, error) {
	if len(am.secret) == 0 {
		return "", errors.New("no token secret configured")
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

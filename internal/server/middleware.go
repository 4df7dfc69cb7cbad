package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const ctxUserID = "user_id"

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("http")
	}
}

func isPublic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// authMiddleware: Bearer JWT HS256, tożsamość z claimu sub.
// Trasy publiczne (prefiks) przechodzą bez tokenu, ale token, jeśli jest poprawny, i tak ustawia user_id.
func authMiddleware(log zerolog.Logger, secret string, public []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		publicRoute := isPublic(c.Request.URL.Path, public)

		sub, err := subjectFromHeader(c.GetHeader("Authorization"), secret)
		if err == nil {
			c.Set(ctxUserID, sub)
			c.Next()
			return
		}
		if publicRoute {
			c.Next()
			return
		}
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("auth: odrzucono")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	}
}

var (
	errNoToken   = errors.New("authorization header required")
	errBadHeader = errors.New("invalid authorization header format")
	errNoSecret  = errors.New("jwt secret not configured")
)

func subjectFromHeader(header, secret string) (string, error) {
	if header == "" {
		return "", errNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errBadHeader
	}
	if secret == "" {
		return "", errNoSecret
	}

	tok, err := jwt.Parse(strings.TrimSpace(parts[1]), func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString(ctxUserID)
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if s.deps.Admin == nil || !s.deps.Admin.IsAdmin(c.Request.Context(), uid) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin permission required"})
			return
		}
		c.Next()
	}
}

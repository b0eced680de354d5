package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"iris/dto"
	"iris/entities"
)

// requestLogger attaches a request-scoped logger to the request context.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger.With().Str("request_id", uuid.NewString()).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		reqLogger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

type AuthConfig struct {
	JWTSecret string
	// Identity is used for every request when no secret is configured.
	Identity entities.Uploader
}

type identityKey struct{}

func withIdentity(ctx context.Context, u entities.Uploader) context.Context {
	return context.WithValue(ctx, identityKey{}, u)
}

func identityFromContext(ctx context.Context) entities.Uploader {
	u, _ := ctx.Value(identityKey{}).(entities.Uploader)
	return u
}

type identityClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

func authenticateJWT(token, secret string) (entities.Uploader, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &identityClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return entities.Uploader{}, err
	}
	if !parsed.Valid {
		return entities.Uploader{}, errors.New("invalid token")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	if name == "" && claims.Email == "" {
		return entities.Uploader{}, errors.New("name or email claim required")
	}
	return entities.Uploader{Name: name, Email: claims.Email}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func identity(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.JWTSecret == "" {
			c.Request = c.Request.WithContext(withIdentity(c.Request.Context(), cfg.Identity))
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "authentication required")
			return
		}
		user, err := authenticateJWT(token, cfg.JWTSecret)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Debug().Err(err).Msg("rejected token")
			unauthorized(c, "invalid credentials")
			return
		}
		c.Request = c.Request.WithContext(withIdentity(c.Request.Context(), user))
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: "unauthorized", Message: message},
	})
}

package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	"go.uber.org/zap"
)

const (
	accessTokenCookie  = "access_token"
	contextMemberIDKey = "member_id"
)

// AuthRequired accepts an HS256 bearer token issued by the account subsystem
// whose subject is the member id. The token is read from the Authorization header
// or the access_token cookie.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" || s.cfg.AuthJWTSecret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.parseToken(raw)
		if err != nil {
			s.log.Debug("rejected bearer token", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		memberID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
		if err != nil || memberID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextMemberIDKey, memberID)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "member", memberID.String()))
		c.Next()
	}
}

func (s *Server) parseToken(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.AuthJWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func memberIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextMemberIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

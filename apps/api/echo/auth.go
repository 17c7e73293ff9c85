package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
)

const (
	tokenContextKey   = "userToken"
	sessionContextKey = "session"
	tokenAudience     = "players"
)

var nowFunc = time.Now // mockable

// Claims represents the authorization claims transmitted via a JWT.
// Subject is the user id; ClientID scopes every request to one tenant.
type Claims struct {
	jwt.StandardClaims
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

func jwtConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

func NewClaims(conf *core.Config, clientID, userID string, isAdmin bool) *Claims {
	now := nowFunc()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   userID,
			Audience:  tokenAudience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		ClientID: clientID,
		IsAdmin:  isAdmin,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	jwtConf := jwtConfig(conf)
	method := jwt.GetSigningMethod(jwtConf.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(jwtConf.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// sessionMiddleware turns the token claims into the core.Session every handler passes down.
func sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		if claims.ClientID == "" || claims.Subject == "" {
			return errUnauthorized
		}
		ctx.Set(sessionContextKey, core.Session{
			ClientID:  claims.ClientID,
			UserID:    claims.Subject,
			IsAdmin:   claims.IsAdmin,
			Now:       nowFunc().UTC(),
			RequestID: ctx.Response().Header().Get(echo.HeaderXRequestID),
		})
		return next(ctx)
	}
}

func getContextSession(ctx echo.Context) (core.Session, bool) {
	sess, ok := ctx.Get(sessionContextKey).(core.Session)
	return sess, ok
}

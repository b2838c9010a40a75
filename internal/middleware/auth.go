package middleware

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ScopeKey is the request user value holding the authenticated owner scope.
const ScopeKey = "scope"

// JWTAuth verifies HS256 bearer tokens and stores the scope claim on the request.
func JWTAuth(secret, scopeClaim string, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scopeClaim == "" {
		scopeClaim = "user_id"
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid jwt token", zap.Error(err))
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			scope, _ := claims[scopeClaim].(string)
			if strings.TrimSpace(scope) == "" {
				logger.Warn("jwt token without scope claim", zap.String("claim", scopeClaim))
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				return
			}
			ctx.SetUserValue(ScopeKey, scope)
			ctx.Request.Header.Set("X-User-ID", scope)

			next(ctx)
		}
	}
}

// Scope returns the scope set by JWTAuth, or "".
func Scope(ctx *fasthttp.RequestCtx) string {
	if ctx == nil {
		return ""
	}
	scope, _ := ctx.UserValue(ScopeKey).(string)
	return scope
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

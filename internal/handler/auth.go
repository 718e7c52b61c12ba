package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type claimsKey struct{}

func claimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

// callerFields описывает владельца токена для логов запроса.
func callerFields(ctx context.Context) []zap.Field {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil
	}
	var fields []zap.Field
	for claim, field := range map[string]string{"wallet": "caller_wallet", "sub": "caller_sub"} {
		if v, ok := claims[claim].(string); ok && v != "" {
			fields = append(fields, zap.String(field, v))
		}
	}
	return fields
}

// AuthMiddleware требует заголовок "Authorization: Bearer <token>", подписанный HS256 секретом.
func AuthMiddleware(secret string, logger *zap.Logger) mux.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, logger, http.StatusUnauthorized, "Unauthorized: Missing Authorization header")
				return
			}

			scheme, token, found := strings.Cut(header, " ")
			if !found || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
				writeError(w, logger, http.StatusUnauthorized, "Unauthorized: Invalid Authorization format. Expected 'Bearer <token>'")
				return
			}

			if secret == "" {
				logger.Error("jwt secret is not configured")
				writeError(w, logger, http.StatusInternalServerError, "Internal Server Error: Missing JWT secret key")
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			}); err != nil {
				logger.Debug("rejected bearer token", zap.Error(err), zap.String("path", r.URL.Path))
				writeError(w, logger, http.StatusUnauthorized, "Unauthorized: Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

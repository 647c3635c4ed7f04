// Package middleware содержит HTTP middleware движка распределения рецензий.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

type contextKey string

const callerKey contextKey = "caller"

const authCookieName = "auth_token"

// AuthMiddleware проверяет подписанный токен вида role:id.signature, переданный
// в заголовке Authorization (Bearer) или в cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным: выданные ранее токены перестают действовать.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен и добавляет вызывающего в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только вызывающих с одной из ролей roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// Issue выдаёт токен для вызывающего.
func (a *AuthMiddleware) Issue(c model.Caller) string {
	return a.sign(string(c.Role) + ":" + strconv.FormatInt(c.ID, 10))
}

func (a *AuthMiddleware) sign(subject string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(subject))
	return subject + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (model.Caller, bool) {
	subject, signature, ok := strings.Cut(token, ".")
	if !ok {
		return model.Caller{}, false
	}

	_, expected, _ := strings.Cut(a.sign(subject), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return model.Caller{}, false
	}

	role, idStr, ok := strings.Cut(subject, ":")
	if !ok || !model.Role(role).Valid() {
		return model.Caller{}, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return model.Caller{}, false
	}

	return model.Caller{Role: model.Role(role), ID: id}, true
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// WithCaller добавляет вызывающего в контекст.
func WithCaller(ctx context.Context, c model.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext извлекает вызывающего из контекста запроса.
func CallerFromContext(ctx context.Context) (model.Caller, bool) {
	c, ok := ctx.Value(callerKey).(model.Caller)
	return c, ok
}

package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "auth.subject"

var errMissingToken = errors.New("требуется bearer-токен")

// BearerAuthMiddleware проверяет подпись bearer-токена и кладёт subject
// в контекст запроса. Содержимое subject здесь не интерпретируется:
// сопоставление с целевым пользователем выполняет слой доступа.
func BearerAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				WriteError(w, http.StatusUnauthorized, errMissingToken)
				return
			}
			token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				WriteError(w, http.StatusUnauthorized, errors.New("подпись токена недействительна"))
				return
			}
			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				WriteError(w, http.StatusUnauthorized, errors.New("токен без subject"))
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject возвращает subject токена из контекста запроса.
func Subject(r *http.Request) string {
	subject, _ := r.Context().Value(subjectKey).(string)
	return subject
}

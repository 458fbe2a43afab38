package access

import (
	"errors"
	"strings"
)

// providerPrefix — префикс провайдера идентичности в subject внешнего токена.
const providerPrefix = "twitter|"

// ErrUnauthorized возвращается при несовпадении subject и целевого пользователя.
var ErrUnauthorized = errors.New("unauthorized: subject does not match user id")

// Normalize отрезает префикс провайдера от subject токена и возвращает
// внутренний идентификатор пользователя.
func Normalize(subject string) string {
	return strings.TrimPrefix(subject, providerPrefix)
}

// Authorize проверяет, что аутентифицированный subject владеет целевым
// пользователем. Возвращает нормализованный идентификатор либо
// ErrUnauthorized. Пустой subject и пустая цель всегда отклоняются: проверка
// закрыта по умолчанию и выполняется до любого обращения к хранилищу.
func Authorize(subject, targetUserID string) (string, error) {
	id := Normalize(subject)
	if id == "" || targetUserID == "" {
		return "", ErrUnauthorized
	}
	if id != targetUserID {
		return "", ErrUnauthorized
	}
	return id, nil
}

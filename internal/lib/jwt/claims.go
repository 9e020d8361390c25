// Package jwt реализует выпуск и разбор JWT токенов сессии арендатора.
// Токен несёт идентификатор арендатора и роль — из них middleware собирает
// контекст изоляции на каждый запрос.
package jwt

import (
	"time"
)

// Maker описывает интерфейс выпуска и проверки токенов сессии.
type Maker interface {
	// GenerateToken выпускает токен для арендатора с указанной ролью.
	GenerateToken(tenantUID, username, role string) (string, error)
	// ParseToken проверяет подпись и срок действия, возвращает claims.
	ParseToken(tokenStr string) (*SessionClaims, error)
}

// MakerImpl реализует Maker на симметричном ключе HS256.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewMaker создаёт MakerImpl с секретным ключом и временем жизни токена.
func NewMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}

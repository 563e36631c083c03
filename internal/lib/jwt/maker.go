// Package jwt реализует выпуск и проверку сервисных JWT токенов для
// командного API. Токен выпускается оператором (verifyctl token) и
// предъявляется фронтендом платформы сообществ.
package jwt

import (
	"time"
)

// Роли сервисных токенов.
const (
	// RoleFrontend — фронтенд платформы, передающий команды участников и владельцев.
	RoleFrontend = "frontend"
	// RoleAdmin — оператор, которому доступна ручная смена уровня подписки.
	RoleAdmin = "admin"
)

// Maker описывает интерфейс для генерации и парсинга JWT токенов.
type Maker interface {
	GenerateToken(subject, role string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}

package models

import "time"

// Назначения кодов подтверждения.
const (
	CodeKindLogin = "login"
	CodeKindSetup = "setup"
	CodeKindReset = "reset"
)

const (
	// CodeLength - длина кода подтверждения.
	CodeLength = 6

	// MaxCodeAttempts - количество неверных попыток, после которого код
	// принудительно инвалидируется.
	MaxCodeAttempts = 5

	// DefaultCodeTTL - срок жизни кода по умолчанию.
	DefaultCodeTTL = 10 * time.Minute

	// TrustedSessionTTL - срок жизни доверенной сессии. Фиксируется при
	// создании и не продлевается при использовании.
	TrustedSessionTTL = 30 * 24 * time.Hour
)

// ValidCodeKind проверяет, что назначение кода известно системе.
func ValidCodeKind(kind string) bool {
	switch kind {
	case CodeKindLogin, CodeKindSetup, CodeKindReset:
		return true
	}
	return false
}

package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/ignatzorin/twofactor-service/internal/models"
)

// Константы валидации
const (
	MinSessionIDLength  = 8
	MaxSessionIDLength  = 128
	MaxDeviceNameLength = 100
	MaxUserAgentLength  = 512
)

// ValidateCode проверяет формат кода подтверждения: ровно 6 цифр.
func ValidateCode(code string) error {
	if utf8.RuneCountInString(code) != models.CodeLength {
		return fmt.Errorf("код должен состоять из %d цифр", models.CodeLength)
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return fmt.Errorf("код должен содержать только цифры")
		}
	}
	return nil
}

// ValidateCodeKind проверяет назначение кода.
func ValidateCodeKind(kind string) error {
	if !models.ValidCodeKind(kind) {
		return fmt.Errorf("неизвестное назначение кода: %q", kind)
	}
	return nil
}

// ValidateSessionID проверяет внешний идентификатор доверенной сессии.
func ValidateSessionID(sessionID string) error {
	length := utf8.RuneCountInString(sessionID)
	if length < MinSessionIDLength {
		return fmt.Errorf("идентификатор сессии должен быть не менее %d символов", MinSessionIDLength)
	}
	if length > MaxSessionIDLength {
		return fmt.Errorf("идентификатор сессии должен быть не более %d символов", MaxSessionIDLength)
	}
	for _, r := range sessionID {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("идентификатор сессии содержит недопустимые символы")
		}
	}
	return nil
}

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

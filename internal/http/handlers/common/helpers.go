package common

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/twofactor-service/internal/http/middleware"
)

// ErrUserNotFound is returned when user is not found in context
var ErrUserNotFound = errors.New("пользователь не найден в контексте")

// CurrentUserID extracts user ID from Gin context
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, ErrUserNotFound
	}

	userID, ok := raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}

	return userID, nil
}

// OptionalString возвращает указатель на строку или nil для пустого значения.
func OptionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

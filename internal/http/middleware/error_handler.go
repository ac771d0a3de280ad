package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно: маппит apperror на
// HTTP статусы и маскирует внутренние ошибки.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		statusCode := http.StatusInternalServerError
		message := "внутренняя ошибка сервера"

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			statusCode = appErr.HTTPStatus
			message = appErr.Message

			// Неуспешные проверки кода снаружи неразличимы: не найден,
			// просрочен и исчерпанные попытки дают один и тот же ответ.
			switch appErr.Code {
			case apperror.ErrCodeNotFound, apperror.ErrCodeExpired, apperror.ErrCodeAttemptsExceeded:
				if isCodePath(c.Request.URL.Path) {
					statusCode = http.StatusBadRequest
					message = "неверный или просроченный код"
				}
			case apperror.ErrCodeStoreUnavailable, apperror.ErrCodeInternal:
				// Внутренние детали клиенту не показываем.
				message = "сервис временно недоступен"
			}
		}

		c.JSON(statusCode, gin.H{"error": message})
	}
}

func isCodePath(path string) bool {
	switch path {
	case "/api/2fa/verify", "/api/2fa/confirm":
		return true
	}
	return false
}

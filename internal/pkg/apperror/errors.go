package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeExpired            ErrorCode = "EXPIRED"
	ErrCodeAttemptsExceeded   ErrorCode = "ATTEMPTS_EXCEEDED"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is позволяет сравнивать ошибки по коду через errors.Is.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if !errors.As(target, &appErr) {
		return false
	}
	return e.Code == appErr.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeExpired, ErrCodeAttemptsExceeded:
		return http.StatusGone
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodePreconditionFailed:
		return http.StatusForbidden
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsExpired(err error) bool {
	return CodeOf(err) == ErrCodeExpired
}

func IsAttemptsExceeded(err error) bool {
	return CodeOf(err) == ErrCodeAttemptsExceeded
}

func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

func IsPreconditionFailed(err error) bool {
	return CodeOf(err) == ErrCodePreconditionFailed
}

var (
	// ErrCodeInvalid возвращается наружу для любой неуспешной проверки кода:
	// не найден, просрочен или исчерпаны попытки. Клиент не должен уметь
	// различать эти случаи по тексту ответа.
	ErrCodeInvalid = New(ErrCodeNotFound, "неверный или просроченный код")

	ErrTooManyAttempts  = New(ErrCodeAttemptsExceeded, "слишком много попыток, запросите новый код")
	ErrCodeAlreadyUsed  = New(ErrCodeConflict, "код уже использован")
	ErrSessionNotFound  = New(ErrCodeNotFound, "сессия не найдена или отозвана")
	ErrSessionExists    = New(ErrCodeConflict, "сессия с таким идентификатором уже существует")
	ErrUserNotFound     = New(ErrCodeNotFound, "пользователь не найден")
	ErrInvalidPassword  = New(ErrCodePreconditionFailed, "неверный пароль")
	ErrTwoFactorEnabled = New(ErrCodeConflict, "двухфакторная аутентификация уже включена")
)

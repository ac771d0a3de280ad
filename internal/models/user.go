package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает учётную запись. Запись принадлежит внешнему хранилищу
// аккаунтов; эта подсистема читает её и изменяет только поля 2FA.
type User struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	Username         string    `db:"username" json:"username"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	TwoFactorEnabled bool      `db:"two_factor_enabled" json:"two_factor_enabled"`
	TwoFactorSecret  *string   `db:"two_factor_secret" json:"-"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

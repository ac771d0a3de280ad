package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/repository/common"
)

// ErrUserNotFound возвращается, когда запись пользователя не найдена.
var ErrUserNotFound = fmt.Errorf("user: %w", common.ErrNotFound)

// UserRepository - граница внешнего хранилища аккаунтов. Подсистема 2FA
// читает пользователя и изменяет только пару полей two_factor_*.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository создаёт экземпляр репозитория.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return common.GetByID[models.User](ctx, r.db, "users", id, ErrUserNotFound)
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return common.GetByField[models.User](ctx, r.db, "users", "email", email, ErrUserNotFound)
}

// SetTwoFactorFlags атомарно выставляет флаг 2FA и секрет. secret = nil
// очищает секрет (выключение 2FA).
func (r *UserRepository) SetTwoFactorFlags(ctx context.Context, id uuid.UUID, enabled bool, secret *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET two_factor_enabled = $2, two_factor_secret = $3, updated_at = NOW()
		WHERE id = $1
	`, id, enabled, secret)
	if err != nil {
		return fmt.Errorf("user repository: set two factor flags %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user repository: set two factor flags rows affected %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

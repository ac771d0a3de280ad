package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/repository/common"
)

var (
	// ErrCodeNotFound возвращается, когда живой код для пары (пользователь, назначение) отсутствует.
	ErrCodeNotFound = fmt.Errorf("verification code: %w", common.ErrNotFound)

	// ErrCodeConsumed возвращается, когда условное обновление used не затронуло
	// ни одной строки: код уже потреблён параллельным вызовом или удалён.
	ErrCodeConsumed = errors.New("verification code already consumed")
)

// VerificationRepository отвечает за таблицу verification_codes.
type VerificationRepository struct {
	db *sqlx.DB
}

// NewVerificationRepository создаёт экземпляр репозитория.
func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Replace удаляет все коды пары (user_id, kind) и вставляет новый одной
// транзакцией, чтобы два конкурентных вызова не оставили по живому коду.
// Возвращает идентификаторы удалённых строк - по ним отменяются отложенные
// удаления в планировщике.
func (r *VerificationRepository) Replace(ctx context.Context, code *models.VerificationCode) ([]uuid.UUID, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("verification repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var purged []uuid.UUID
	if err := tx.SelectContext(ctx, &purged, `
		DELETE FROM verification_codes
		WHERE user_id = $1 AND kind = $2
		RETURNING id
	`, code.UserID, code.Kind); err != nil {
		return nil, fmt.Errorf("verification repository: purge %w", err)
	}

	if err := tx.QueryRowxContext(ctx, `
		INSERT INTO verification_codes (user_id, kind, code, expires_at, used, attempts)
		VALUES ($1, $2, $3, $4, FALSE, 0)
		RETURNING id, created_at
	`, code.UserID, code.Kind, code.Code, code.ExpiresAt).Scan(&code.ID, &code.CreatedAt); err != nil {
		return nil, fmt.Errorf("verification repository: insert %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("verification repository: commit %w", err)
	}

	return purged, nil
}

// FindActive возвращает самый свежий живой код пары (user_id, kind):
// неиспользованный и непросроченный. Поиск намеренно не фильтрует по
// значению кода - неверные вводы должны засчитываться против живого кода.
func (r *VerificationRepository) FindActive(ctx context.Context, userID uuid.UUID, kind string) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	err := r.db.GetContext(ctx, &vc, `
		SELECT id, user_id, kind, code, expires_at, used, attempts, created_at
		FROM verification_codes
		WHERE user_id = $1 AND kind = $2 AND used = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verification repository: find active %w", err)
	}
	return &vc, nil
}

// Consume помечает код использованным. Обновление условное: выигрывает
// ровно один из гонящихся вызовов, остальные получают ErrCodeConsumed.
func (r *VerificationRepository) Consume(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET used = TRUE
		WHERE id = $1 AND used = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("verification repository: consume %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verification repository: consume rows affected %w", err)
	}
	if affected == 0 {
		return ErrCodeConsumed
	}
	return nil
}

// RecordAttempt увеличивает счётчик неверных попыток на стороне базы.
func (r *VerificationRepository) RecordAttempt(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET attempts = attempts + 1
		WHERE id = $1 AND used = FALSE
	`, id); err != nil {
		return fmt.Errorf("verification repository: record attempt %w", err)
	}
	return nil
}

// DeleteByID удаляет код. Удаление уже отсутствующей строки - не ошибка:
// сюда приходит колбэк планировщика, который мог проиграть гонку с purge.
func (r *VerificationRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM verification_codes WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("verification repository: delete by id %w", err)
	}
	return nil
}

// DeleteByUser удаляет все коды пользователя независимо от назначения.
// Возвращает идентификаторы удалённых строк для отмены их таймеров.
func (r *VerificationRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var deleted []uuid.UUID
	if err := r.db.SelectContext(ctx, &deleted, `
		DELETE FROM verification_codes WHERE user_id = $1
		RETURNING id
	`, userID); err != nil {
		return nil, fmt.Errorf("verification repository: delete by user %w", err)
	}
	return deleted, nil
}

// DeleteExpired удаляет все просроченные коды одним запросом. Это фоновая
// зачистка-страховка: корректность не зависит от неё, проверка expires_at
// выполняется при каждом чтении.
func (r *VerificationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM verification_codes WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("verification repository: delete expired %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("verification repository: delete expired rows affected %w", err)
	}
	return affected, nil
}

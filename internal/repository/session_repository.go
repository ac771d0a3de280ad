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
	// ErrSessionNotFound возвращается, когда действующая сессия не найдена.
	ErrSessionNotFound = fmt.Errorf("trusted session: %w", common.ErrNotFound)

	// ErrSessionExists возвращается при попытке создать сессию с занятым session_id.
	ErrSessionExists = fmt.Errorf("trusted session: %w", common.ErrAlreadyExists)
)

// SessionRepository отвечает за таблицу trusted_sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository создаёт экземпляр репозитория.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create сохраняет новую доверенную сессию. Уникальность session_id
// обеспечивается ограничением в базе.
func (r *SessionRepository) Create(ctx context.Context, session *models.TrustedSession) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO trusted_sessions (user_id, session_id, device_name, ip_address, user_agent, last_used_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, TRUE)
		RETURNING id, last_used_at, is_active, created_at
	`, session.UserID, session.SessionID, session.DeviceName, session.IPAddress, session.UserAgent, session.ExpiresAt).
		Scan(&session.ID, &session.LastUsedAt, &session.IsActive, &session.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("session repository: create %w", err)
	}
	return nil
}

// Validate проверяет сессию и отмечает использование одним условным
// запросом: last_used_at обновляется только у живой записи, expires_at
// при этом не сдвигается. Ноль затронутых строк означает невалидную сессию.
func (r *SessionRepository) Validate(ctx context.Context, userID uuid.UUID, sessionID string) (*models.TrustedSession, error) {
	var session models.TrustedSession
	err := r.db.GetContext(ctx, &session, `
		UPDATE trusted_sessions SET last_used_at = NOW()
		WHERE user_id = $1 AND session_id = $2 AND is_active = TRUE AND expires_at > NOW()
		RETURNING id, user_id, session_id, device_name, ip_address, user_agent, last_used_at, expires_at, is_active, created_at
	`, userID, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session repository: validate %w", err)
	}
	return &session, nil
}

// Revoke мягко отзывает сессию. Идемпотентно: отзыв уже отозванной или
// несуществующей сессии не считается ошибкой.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE trusted_sessions SET is_active = FALSE WHERE session_id = $1
	`, sessionID); err != nil {
		return fmt.Errorf("session repository: revoke %w", err)
	}
	return nil
}

// RevokeAll отзывает все сессии пользователя одним запросом.
func (r *SessionRepository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE trusted_sessions SET is_active = FALSE WHERE user_id = $1
	`, userID); err != nil {
		return fmt.Errorf("session repository: revoke all %w", err)
	}
	return nil
}

// ListByUser возвращает сессии пользователя, сначала самые свежие.
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.TrustedSession, error) {
	var sessions []models.TrustedSession
	if err := r.db.SelectContext(ctx, &sessions, `
		SELECT id, user_id, session_id, device_name, ip_address, user_agent, last_used_at, expires_at, is_active, created_at
		FROM trusted_sessions
		WHERE user_id = $1
		ORDER BY last_used_at DESC
	`, userID); err != nil {
		return nil, fmt.Errorf("session repository: list by user %w", err)
	}
	return sessions, nil
}

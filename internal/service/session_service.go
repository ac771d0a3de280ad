package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
	"github.com/ignatzorin/twofactor-service/internal/repository"
	"github.com/ignatzorin/twofactor-service/internal/validation"
)

// SessionStore описывает зависимости сервиса от хранилища доверенных сессий.
type SessionStore interface {
	Create(ctx context.Context, session *models.TrustedSession) error
	Validate(ctx context.Context, userID uuid.UUID, sessionID string) (*models.TrustedSession, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.TrustedSession, error)
}

// CreateSessionInput содержит данные нового "запомненного устройства".
type CreateSessionInput struct {
	UserID     uuid.UUID
	SessionID  string
	DeviceName *string
	IPAddress  *string
	UserAgent  *string
}

// SessionService управляет жизненным циклом доверенных сессий.
type SessionService struct {
	store SessionStore
	ttl   time.Duration
	log   *logrus.Entry
}

// NewSessionService создаёт сервис доверенных сессий. ttl <= 0 заменяется
// дефолтными 30 днями.
func NewSessionService(store SessionStore, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = models.TrustedSessionTTL
	}
	return &SessionService{
		store: store,
		ttl:   ttl,
		log:   logger.WithComponent("sessions"),
	}
}

// Create сохраняет доверенную сессию. Срок жизни фиксируется на момент
// создания и дальше не продлевается.
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*models.TrustedSession, error) {
	if err := validation.ValidateSessionID(in.SessionID); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if in.DeviceName != nil {
		if err := validation.ValidateLength("имя устройства", *in.DeviceName, 0, validation.MaxDeviceNameLength); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
	}

	session := &models.TrustedSession{
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		DeviceName: in.DeviceName,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		ExpiresAt:  time.Now().Add(s.ttl),
	}

	if err := s.store.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrSessionExists) {
			return nil, apperror.ErrSessionExists
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище сессий недоступно")
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    in.UserID,
		"session_id": in.SessionID,
	}).Info("trusted session created")

	return session, nil
}

// Validate проверяет сессию. Успех обновляет last_used_at, но не трогает
// expires_at. Отозванная, просроченная и несуществующая сессии снаружи
// неразличимы.
func (s *SessionService) Validate(ctx context.Context, userID uuid.UUID, sessionID string) (*models.TrustedSession, error) {
	session, err := s.store.Validate(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, apperror.ErrSessionNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище сессий недоступно")
	}
	return session, nil
}

// Revoke мягко отзывает сессию. Идемпотентно.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	if err := s.store.Revoke(ctx, sessionID); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище сессий недоступно")
	}
	s.log.WithField("session_id", sessionID).Info("trusted session revoked")
	return nil
}

// RevokeAll отзывает все сессии пользователя.
func (s *SessionService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.RevokeAll(ctx, userID); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище сессий недоступно")
	}
	s.log.WithField("user_id", userID).Info("all trusted sessions revoked")
	return nil
}

// List возвращает сессии пользователя для отображения списка устройств.
func (s *SessionService) List(ctx context.Context, userID uuid.UUID) ([]models.TrustedSession, error) {
	sessions, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище сессий недоступно")
	}
	return sessions, nil
}

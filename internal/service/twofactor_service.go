package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
	"github.com/ignatzorin/twofactor-service/internal/repository"
)

// UserStore - внешнее хранилище аккаунтов: чтение пользователя и изменение
// пары полей 2FA.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetTwoFactorFlags(ctx context.Context, id uuid.UUID, enabled bool, secret *string) error
}

// CodeIssuer - операции движка кодов, нужные контроллеру состояния 2FA.
// Ему удовлетворяет *VerificationService.
type CodeIssuer interface {
	Send(ctx context.Context, userID uuid.UUID, kind string) (*models.VerificationCode, error)
	Verify(ctx context.Context, userID uuid.UUID, kind, submitted string) (*VerifyResult, error)
	PurgeUser(ctx context.Context, userID uuid.UUID) error
}

// CredentialVerifier проверяет пароль пользователя. Сама проверка
// принадлежит внешней подсистеме учётных данных, здесь она только
// предусловие переходов состояния.
type CredentialVerifier interface {
	CheckPassword(passwordHash, plaintext string) bool
}

// BcryptVerifier - реализация CredentialVerifier поверх bcrypt.
type BcryptVerifier struct{}

// CheckPassword сравнивает пароль с bcrypt-хэшем.
func (BcryptVerifier) CheckPassword(passwordHash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(plaintext)) == nil
}

// TwoFactorService управляет переходами DISABLED -> PENDING -> ENABLED и
// обратно. PENDING - это выставленный секрет при выключенном флаге.
type TwoFactorService struct {
	users    UserStore
	codes    CodeIssuer
	verifier CredentialVerifier
	log      *logrus.Entry
}

// NewTwoFactorService создаёт контроллер состояния 2FA.
func NewTwoFactorService(users UserStore, codes CodeIssuer, verifier CredentialVerifier) *TwoFactorService {
	return &TwoFactorService{
		users:    users,
		codes:    codes,
		verifier: verifier,
		log:      logger.WithComponent("twofactor"),
	}
}

// Enable начинает включение 2FA: проверяет пароль, выставляет свежий секрет
// (флаг ещё не включается) и отправляет SETUP код. Аккаунт остаётся в
// PENDING до успешного ConfirmSetup. Если выпуск кода не удался, секрет
// откатывается - частично включённого состояния не остаётся.
func (s *TwoFactorService) Enable(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return apperror.ErrTwoFactorEnabled
	}
	if !s.verifier.CheckPassword(user.PasswordHash, password) {
		return apperror.ErrInvalidPassword
	}

	secret := uuid.NewString()
	prevSecret := user.TwoFactorSecret

	if err := s.users.SetTwoFactorFlags(ctx, userID, false, &secret); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище пользователей недоступно")
	}

	if _, err := s.codes.Send(ctx, userID, models.CodeKindSetup); err != nil {
		// Возвращаем аккаунт в прежнее состояние. Сбой отката только
		// логируем: исходная ошибка важнее.
		if rbErr := s.users.SetTwoFactorFlags(ctx, userID, false, prevSecret); rbErr != nil {
			s.log.WithError(rbErr).WithField("user_id", userID).Error("failed to roll back two-factor secret")
		}
		return err
	}

	s.log.WithField("user_id", userID).Info("two-factor setup started")
	return nil
}

// ConfirmSetup завершает включение: проверяет SETUP код и включает флаг.
// При неуспехе аккаунт остаётся в PENDING, код можно запросить повторно.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, userID uuid.UUID, submitted string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return apperror.ErrTwoFactorEnabled
	}
	if user.TwoFactorSecret == nil {
		return apperror.New(apperror.ErrCodePreconditionFailed, "включение двухфакторной аутентификации не начато")
	}

	if _, err := s.codes.Verify(ctx, userID, models.CodeKindSetup, submitted); err != nil {
		return err
	}

	if err := s.users.SetTwoFactorFlags(ctx, userID, true, user.TwoFactorSecret); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище пользователей недоступно")
	}

	s.log.WithField("user_id", userID).Info("two-factor enabled")
	return nil
}

// Disable выключает 2FA: проверяет пароль, вычищает все коды пользователя
// вместе с их отложенными удалениями и сбрасывает флаг с секретом. Зачистка
// идёт первой: при её сбое аккаунт остаётся включённым, выключенного
// аккаунта с живыми кодами не возникает.
func (s *TwoFactorService) Disable(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !s.verifier.CheckPassword(user.PasswordHash, password) {
		return apperror.ErrInvalidPassword
	}

	if err := s.codes.PurgeUser(ctx, userID); err != nil {
		return err
	}

	if err := s.users.SetTwoFactorFlags(ctx, userID, false, nil); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище пользователей недоступно")
	}

	s.log.WithField("user_id", userID).Info("two-factor disabled")
	return nil
}

func (s *TwoFactorService) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище пользователей недоступно")
	}
	return user, nil
}

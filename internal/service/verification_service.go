package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/twofactor-service/internal/goroutine"
	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/mail"
	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
	"github.com/ignatzorin/twofactor-service/internal/repository"
	"github.com/ignatzorin/twofactor-service/internal/validation"
)

// VerificationStore описывает зависимости сервиса от хранилища кодов.
type VerificationStore interface {
	Replace(ctx context.Context, code *models.VerificationCode) ([]uuid.UUID, error)
	FindActive(ctx context.Context, userID uuid.UUID, kind string) (*models.VerificationCode, error)
	Consume(ctx context.Context, id uuid.UUID) error
	RecordAttempt(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// UserGetter - читающая часть внешнего хранилища аккаунтов.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CodeScheduler - планировщик отложенных удалений кодов.
type CodeScheduler interface {
	Schedule(codeID uuid.UUID, expiresAt time.Time)
	Cancel(codeID uuid.UUID)
}

// VerifyResult возвращается при успешной проверке кода.
type VerifyResult struct {
	CodeID uuid.UUID
	Kind   string
}

// VerificationService инкапсулирует выпуск и проверку кодов подтверждения.
type VerificationService struct {
	store     VerificationStore
	users     UserGetter
	scheduler CodeScheduler
	mailer    mail.Mailer
	ttl       time.Duration
	log       *logrus.Entry
}

// NewVerificationService создаёт сервис кодов подтверждения. ttl <= 0
// заменяется дефолтными 10 минутами.
func NewVerificationService(store VerificationStore, users UserGetter, scheduler CodeScheduler, mailer mail.Mailer, ttl time.Duration) *VerificationService {
	if ttl <= 0 {
		ttl = models.DefaultCodeTTL
	}
	return &VerificationService{
		store:     store,
		users:     users,
		scheduler: scheduler,
		mailer:    mailer,
		ttl:       ttl,
		log:       logger.WithComponent("verification"),
	}
}

// Issue выпускает новый код пары (userID, kind). Все прежние коды пары
// вычищаются в той же транзакции, так что живым остаётся ровно один код.
// Для нового кода регистрируется отложенное удаление, таймеры вычищенных
// кодов снимаются.
func (s *VerificationService) Issue(ctx context.Context, userID uuid.UUID, kind string, ttl time.Duration) (*models.VerificationCode, error) {
	if err := validation.ValidateCodeKind(kind); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	code, err := generateCode()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сгенерировать код")
	}

	vc := &models.VerificationCode{
		UserID:    userID,
		Kind:      kind,
		Code:      code,
		ExpiresAt: time.Now().Add(ttl),
	}

	purged, err := s.store.Replace(ctx, vc)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
	}

	for _, id := range purged {
		s.scheduler.Cancel(id)
	}
	s.scheduler.Schedule(vc.ID, vc.ExpiresAt)

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    kind,
		"purged":  len(purged),
	}).Info("verification code issued")

	return vc, nil
}

// Verify проверяет присланный код. Поиск идёт по живому коду пары
// (userID, kind) без фильтра по значению, чтобы неверные вводы
// засчитывались против действующего кода. Потребление кода - условное
// обновление: из гонящихся вызовов успешен ровно один.
func (s *VerificationService) Verify(ctx context.Context, userID uuid.UUID, kind, submitted string) (*VerifyResult, error) {
	if err := validation.ValidateCodeKind(kind); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateCode(submitted); err != nil {
		// Кривой формат не трогает счётчик попыток: до кода он не добрался.
		return nil, apperror.ErrCodeInvalid
	}

	vc, err := s.store.FindActive(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, apperror.ErrCodeInvalid
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
	}

	if vc.Attempts >= models.MaxCodeAttempts {
		// Лимит исчерпан - код принудительно инвалидируется, даже если
		// значение на этот раз верное.
		if err := s.store.Consume(ctx, vc.ID); err != nil && !errors.Is(err, repository.ErrCodeConsumed) {
			return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
		}
		s.scheduler.Cancel(vc.ID)
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"kind":    kind,
		}).Warn("verification code invalidated after too many attempts")
		return nil, apperror.ErrTooManyAttempts
	}

	if submitted != vc.Code {
		if err := s.store.RecordAttempt(ctx, vc.ID); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
		}
		return nil, apperror.ErrCodeInvalid
	}

	if err := s.store.Consume(ctx, vc.ID); err != nil {
		if errors.Is(err, repository.ErrCodeConsumed) {
			return nil, apperror.ErrCodeAlreadyUsed
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
	}

	s.scheduler.Cancel(vc.ID)

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    kind,
	}).Info("verification code accepted")

	return &VerifyResult{CodeID: vc.ID, Kind: kind}, nil
}

// Send выпускает код и передаёт его во внешний канал доставки. Отправка
// асинхронная: сбой канала логируется и не откатывает выпущенный код -
// пользователь запросит повторную отправку, и Issue перевыпустит код.
func (s *VerificationService) Send(ctx context.Context, userID uuid.UUID, kind string) (*models.VerificationCode, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище пользователей недоступно")
	}

	vc, err := s.Issue(ctx, userID, kind, s.ttl)
	if err != nil {
		return nil, err
	}

	subject, body := mail.CodeMessage(user.Username, vc.Code, kind)
	to := user.Email

	goroutine.SafeGo(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.mailer.Send(sendCtx, to, subject, body); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"kind":    kind,
			}).Error("failed to deliver verification code")
		}
	})

	return vc, nil
}

// PurgeUser удаляет все коды пользователя независимо от назначения и
// снимает их отложенные удаления. Вызывается при выключении 2FA.
func (s *VerificationService) PurgeUser(ctx context.Context, userID uuid.UUID) error {
	deleted, err := s.store.DeleteByUser(ctx, userID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "хранилище кодов недоступно")
	}
	for _, id := range deleted {
		s.scheduler.Cancel(id)
	}

	if len(deleted) > 0 {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"purged":  len(deleted),
		}).Info("verification codes purged")
	}
	return nil
}

// generateCode возвращает равномерно распределённый 6-значный код из
// диапазона [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

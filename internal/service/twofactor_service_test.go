package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
)

// setupCode достаёт из хранилища текущий живой код данного назначения.
func (m *mockVerificationStore) setupCode(t *testing.T, userID uuid.UUID, kind string) *models.VerificationCode {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.UserID == userID && c.Kind == kind && !c.Used {
			copied := *c
			return &copied
		}
	}
	t.Fatalf("в хранилище нет живого кода %s для пользователя", kind)
	return nil
}

func newTestTwoFactorService(t *testing.T) (*TwoFactorService, *mockVerificationStore, *fakeScheduler, *mockUserStore, *models.User) {
	t.Helper()

	codes, store, scheduler, users, _ := newTestVerificationService()
	svc := NewTwoFactorService(users, codes, BcryptVerifier{})

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("не удалось захэшировать пароль: %v", err)
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		Username:     "user",
		PasswordHash: string(hash),
	}
	users.users[user.ID] = user

	return svc, store, scheduler, users, user
}

func TestTwoFactorService_EnableAndConfirm(t *testing.T) {
	svc, store, _, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	if err := svc.Enable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("enable вернул ошибку: %v", err)
	}

	// Аккаунт в PENDING: секрет выставлен, флаг ещё выключен.
	pending, _ := users.GetByID(ctx, user.ID)
	if pending.TwoFactorEnabled {
		t.Fatalf("флаг 2FA не должен включаться до подтверждения")
	}
	if pending.TwoFactorSecret == nil {
		t.Fatalf("enable должен выставить секрет")
	}

	code := store.setupCode(t, user.ID, models.CodeKindSetup)

	if err := svc.ConfirmSetup(ctx, user.ID, code.Code); err != nil {
		t.Fatalf("confirm вернул ошибку: %v", err)
	}

	enabled, _ := users.GetByID(ctx, user.ID)
	if !enabled.TwoFactorEnabled {
		t.Fatalf("после подтверждения 2FA должна быть включена")
	}
	if enabled.TwoFactorSecret == nil || *enabled.TwoFactorSecret != *pending.TwoFactorSecret {
		t.Fatalf("подтверждение не должно менять секрет")
	}

	// Повторное включение поверх активной 2FA отклоняется.
	err := svc.Enable(ctx, user.ID, "correct-password")
	if !errors.Is(err, apperror.ErrTwoFactorEnabled) {
		t.Fatalf("ожидался конфликт включённой 2FA, получили %v", err)
	}
}

func TestTwoFactorService_EnableWrongPassword(t *testing.T) {
	svc, _, _, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	err := svc.Enable(ctx, user.ID, "wrong-password")
	if !errors.Is(err, apperror.ErrInvalidPassword) {
		t.Fatalf("ожидалась ошибка неверного пароля, получили %v", err)
	}

	u, _ := users.GetByID(ctx, user.ID)
	if u.TwoFactorSecret != nil {
		t.Fatalf("неудачный enable не должен трогать секрет")
	}
}

func TestTwoFactorService_EnableRollsBackSecretOnSendFailure(t *testing.T) {
	svc, store, _, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	store.replaceErr = errors.New("connection refused")

	if err := svc.Enable(ctx, user.ID, "correct-password"); err == nil {
		t.Fatalf("enable должен провалиться при недоступном хранилище кодов")
	}

	u, _ := users.GetByID(ctx, user.ID)
	if u.TwoFactorSecret != nil {
		t.Fatalf("секрет должен быть откачен после сбоя отправки кода")
	}
	if u.TwoFactorEnabled {
		t.Fatalf("флаг 2FA должен остаться выключенным")
	}
}

func TestTwoFactorService_ConfirmWithoutEnable(t *testing.T) {
	svc, _, _, _, user := newTestTwoFactorService(t)

	err := svc.ConfirmSetup(context.Background(), user.ID, "123456")
	if !apperror.IsPreconditionFailed(err) {
		t.Fatalf("подтверждение без начатого включения должно давать ошибку предусловия, получили %v", err)
	}
}

func TestTwoFactorService_ConfirmWrongCodeKeepsPending(t *testing.T) {
	svc, store, _, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	if err := svc.Enable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("enable вернул ошибку: %v", err)
	}

	code := store.setupCode(t, user.ID, models.CodeKindSetup)
	wrong := "000000"
	if wrong == code.Code {
		wrong = "000001"
	}

	if err := svc.ConfirmSetup(ctx, user.ID, wrong); err == nil {
		t.Fatalf("неверный код не должен подтверждать включение")
	}

	u, _ := users.GetByID(ctx, user.ID)
	if u.TwoFactorEnabled {
		t.Fatalf("после неверного кода аккаунт должен остаться в PENDING")
	}

	// Верный код всё ещё работает.
	if err := svc.ConfirmSetup(ctx, user.ID, code.Code); err != nil {
		t.Fatalf("confirm верным кодом вернул ошибку: %v", err)
	}
}

func TestTwoFactorService_DisablePurgesCodes(t *testing.T) {
	svc, store, scheduler, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	if err := svc.Enable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("enable вернул ошибку: %v", err)
	}
	code := store.setupCode(t, user.ID, models.CodeKindSetup)
	if err := svc.ConfirmSetup(ctx, user.ID, code.Code); err != nil {
		t.Fatalf("confirm вернул ошибку: %v", err)
	}

	// Выпускаем ещё и login-код, чтобы выключение вычистило всё.
	codes := svc.codes.(*VerificationService)
	if _, err := codes.Issue(ctx, user.ID, models.CodeKindLogin, 0); err != nil {
		t.Fatalf("issue login вернул ошибку: %v", err)
	}

	err := svc.Disable(ctx, user.ID, "wrong-password")
	if !errors.Is(err, apperror.ErrInvalidPassword) {
		t.Fatalf("выключение с неверным паролем должно быть отклонено, получили %v", err)
	}

	if err := svc.Disable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("disable вернул ошибку: %v", err)
	}

	u, _ := users.GetByID(ctx, user.ID)
	if u.TwoFactorEnabled || u.TwoFactorSecret != nil {
		t.Fatalf("после выключения флаг и секрет должны быть сброшены")
	}

	store.mu.Lock()
	remaining := len(store.codes)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("выключение должно удалять все коды пользователя, осталось %d", remaining)
	}
	if len(scheduler.scheduled) != 0 {
		t.Fatalf("выключение должно снимать все таймеры пользователя")
	}
}

func TestTwoFactorService_DisableKeepsStateWhenPurgeFails(t *testing.T) {
	svc, store, _, users, user := newTestTwoFactorService(t)
	ctx := context.Background()

	if err := svc.Enable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("enable вернул ошибку: %v", err)
	}
	code := store.setupCode(t, user.ID, models.CodeKindSetup)
	if err := svc.ConfirmSetup(ctx, user.ID, code.Code); err != nil {
		t.Fatalf("confirm вернул ошибку: %v", err)
	}

	store.deleteByUserErr = errors.New("connection refused")

	if err := svc.Disable(ctx, user.ID, "correct-password"); err == nil {
		t.Fatalf("disable должен провалиться при недоступном хранилище кодов")
	}

	// Сбой зачистки не оставляет половинчатого состояния: аккаунт всё ещё
	// включён, секрет на месте.
	u, _ := users.GetByID(ctx, user.ID)
	if !u.TwoFactorEnabled {
		t.Fatalf("после неудачной зачистки 2FA должна остаться включённой")
	}
	if u.TwoFactorSecret == nil {
		t.Fatalf("после неудачной зачистки секрет должен сохраниться")
	}

	// После восстановления хранилища выключение проходит.
	store.deleteByUserErr = nil
	if err := svc.Disable(ctx, user.ID, "correct-password"); err != nil {
		t.Fatalf("повторный disable вернул ошибку: %v", err)
	}
	u, _ = users.GetByID(ctx, user.ID)
	if u.TwoFactorEnabled || u.TwoFactorSecret != nil {
		t.Fatalf("после выключения флаг и секрет должны быть сброшены")
	}
}

func TestTwoFactorService_UnknownUser(t *testing.T) {
	svc, _, _, _, _ := newTestTwoFactorService(t)

	err := svc.Enable(context.Background(), uuid.New(), "correct-password")
	if !errors.Is(err, apperror.ErrUserNotFound) {
		t.Fatalf("ожидалась ошибка неизвестного пользователя, получили %v", err)
	}
}

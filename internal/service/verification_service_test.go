package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/pkg/apperror"
	"github.com/ignatzorin/twofactor-service/internal/repository"
)

// mockVerificationStore - хранилище кодов в памяти с той же семантикой,
// что и у SQL-репозитория: условное потребление, фильтр по expires_at.
type mockVerificationStore struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*models.VerificationCode

	replaceErr      error
	deleteByUserErr error
	afterFind       func(*models.VerificationCode)
	seq             int
}

func newMockVerificationStore() *mockVerificationStore {
	return &mockVerificationStore{codes: make(map[uuid.UUID]*models.VerificationCode)}
}

func (m *mockVerificationStore) Replace(ctx context.Context, code *models.VerificationCode) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.replaceErr != nil {
		return nil, m.replaceErr
	}

	var purged []uuid.UUID
	for id, c := range m.codes {
		if c.UserID == code.UserID && c.Kind == code.Kind {
			purged = append(purged, id)
			delete(m.codes, id)
		}
	}

	m.seq++
	code.ID = uuid.New()
	code.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Microsecond)
	stored := *code
	m.codes[code.ID] = &stored
	return purged, nil
}

func (m *mockVerificationStore) FindActive(ctx context.Context, userID uuid.UUID, kind string) (*models.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.VerificationCode
	now := time.Now()
	for _, c := range m.codes {
		if c.UserID != userID || c.Kind != kind || c.Used || !c.ExpiresAt.After(now) {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, repository.ErrCodeNotFound
	}

	copied := *found
	// Хук изменяет запись уже после снятия снимка: имитация конкурентного
	// вызова, успевшего между чтением и условным обновлением.
	if m.afterFind != nil {
		m.afterFind(found)
	}
	return &copied, nil
}

func (m *mockVerificationStore) Consume(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[id]
	if !ok || c.Used {
		return repository.ErrCodeConsumed
	}
	c.Used = true
	return nil
}

func (m *mockVerificationStore) RecordAttempt(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.codes[id]; ok && !c.Used {
		c.Attempts++
	}
	return nil
}

func (m *mockVerificationStore) DeleteByUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteByUserErr != nil {
		return nil, m.deleteByUserErr
	}

	var deleted []uuid.UUID
	for id, c := range m.codes {
		if c.UserID == userID {
			deleted = append(deleted, id)
			delete(m.codes, id)
		}
	}
	return deleted, nil
}

// expire принудительно просрочивает код в хранилище.
func (m *mockVerificationStore) expire(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[id]; ok {
		c.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

// fakeScheduler записывает вызовы планировщика.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled []uuid.UUID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[uuid.UUID]time.Time)}
}

func (f *fakeScheduler) Schedule(codeID uuid.UUID, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[codeID] = expiresAt
}

func (f *fakeScheduler) Cancel(codeID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, codeID)
	f.cancelled = append(f.cancelled, codeID)
}

func (f *fakeScheduler) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

// mockUserStore реализует UserGetter и UserStore для тестов.
type mockUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]*models.User)}
}

func (m *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserStore) SetTwoFactorFlags(ctx context.Context, id uuid.UUID, enabled bool, secret *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.TwoFactorEnabled = enabled
	u.TwoFactorSecret = secret
	return nil
}

// recordingMailer собирает отправленные письма и сигналит о каждой отправке.
type recordingMailer struct {
	mu     sync.Mutex
	sent   []string
	notify chan struct{}
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{notify: make(chan struct{}, 16)}
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.mu.Unlock()
	m.notify <- struct{}{}
	return nil
}

func (m *recordingMailer) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-m.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("письмо не было отправлено за отведённое время")
	}
}

func newTestVerificationService() (*VerificationService, *mockVerificationStore, *fakeScheduler, *mockUserStore, *recordingMailer) {
	store := newMockVerificationStore()
	scheduler := newFakeScheduler()
	users := newMockUserStore()
	mailer := newRecordingMailer()
	svc := NewVerificationService(store, users, scheduler, mailer, 0)
	return svc, store, scheduler, users, mailer
}

func TestVerificationService_IssueGeneratesSixDigits(t *testing.T) {
	svc, _, scheduler, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 20; i++ {
		vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 0)
		if err != nil {
			t.Fatalf("issue вернул ошибку: %v", err)
		}
		if len(vc.Code) != models.CodeLength {
			t.Fatalf("ожидался код из %d символов, получили %q", models.CodeLength, vc.Code)
		}
		for _, r := range vc.Code {
			if r < '0' || r > '9' {
				t.Fatalf("код содержит не цифру: %q", vc.Code)
			}
		}
	}

	if len(scheduler.scheduled) != 1 {
		t.Fatalf("живым должен остаться один таймер, получили %d", len(scheduler.scheduled))
	}
}

func TestVerificationService_IssueTwiceLeavesOneValidCode(t *testing.T) {
	svc, store, scheduler, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("первый issue вернул ошибку: %v", err)
	}
	second, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("второй issue вернул ошибку: %v", err)
	}

	if len(store.codes) != 1 {
		t.Fatalf("ожидался один код в хранилище, получили %d", len(store.codes))
	}
	if _, ok := store.codes[second.ID]; !ok {
		t.Fatalf("в хранилище должен остаться второй код")
	}

	// Таймер первого кода снят, второй активен.
	if _, ok := scheduler.scheduled[first.ID]; ok {
		t.Fatalf("таймер вытесненного кода должен быть отменён")
	}
	if _, ok := scheduler.scheduled[second.ID]; !ok {
		t.Fatalf("таймер нового кода должен быть зарегистрирован")
	}
}

func TestVerificationService_IssueDifferentKindsDoNotInterfere(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute); err != nil {
		t.Fatalf("issue login вернул ошибку: %v", err)
	}
	if _, err := svc.Issue(ctx, userID, models.CodeKindSetup, 10*time.Minute); err != nil {
		t.Fatalf("issue setup вернул ошибку: %v", err)
	}

	if len(store.codes) != 2 {
		t.Fatalf("коды разных назначений не должны вытеснять друг друга: %d", len(store.codes))
	}
}

func TestVerificationService_VerifySuccessConsumesCode(t *testing.T) {
	svc, store, scheduler, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	result, err := svc.Verify(ctx, userID, models.CodeKindLogin, vc.Code)
	if err != nil {
		t.Fatalf("verify вернул ошибку: %v", err)
	}
	if result.CodeID != vc.ID {
		t.Fatalf("verify вернул чужой идентификатор кода")
	}
	if !store.codes[vc.ID].Used {
		t.Fatalf("код должен быть помечен использованным")
	}
	if _, ok := scheduler.scheduled[vc.ID]; ok {
		t.Fatalf("таймер потреблённого кода должен быть снят")
	}

	// Повторная проверка того же кода обязана провалиться.
	if _, err := svc.Verify(ctx, userID, models.CodeKindLogin, vc.Code); err == nil {
		t.Fatalf("повторное использование кода должно быть отклонено")
	}
}

func TestVerificationService_LostConsumeRaceYieldsConflict(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	// Конкурент потребляет код между чтением и условным обновлением.
	store.afterFind = func(c *models.VerificationCode) {
		c.Used = true
	}

	_, err = svc.Verify(ctx, userID, models.CodeKindLogin, vc.Code)
	if !apperror.IsConflict(err) {
		t.Fatalf("проигравший гонку вызов должен получить конфликт, получили %v", err)
	}

	// Из двух гонящихся проверок успешна ровно одна: код потреблён,
	// чистый повтор больше не проходит.
	store.afterFind = nil
	if !store.codes[vc.ID].Used {
		t.Fatalf("код должен остаться потреблённым")
	}
	if _, err := svc.Verify(ctx, userID, models.CodeKindLogin, vc.Code); err == nil {
		t.Fatalf("потреблённый код не должен проходить повторную проверку")
	}
}

func TestVerificationService_WrongGuessesRecordAttempts(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	wrong := "000000"
	if wrong == vc.Code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		_, err := svc.Verify(ctx, userID, models.CodeKindLogin, wrong)
		if !apperror.IsNotFound(err) {
			t.Fatalf("неверный код должен давать генерическую ошибку, получили %v", err)
		}
	}

	if got := store.codes[vc.ID].Attempts; got != 3 {
		t.Fatalf("ожидалось 3 записанных попытки, получили %d", got)
	}
}

func TestVerificationService_TooManyAttemptsInvalidatesCode(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	wrong := "000000"
	if wrong == vc.Code {
		wrong = "000001"
	}

	for i := 0; i < models.MaxCodeAttempts; i++ {
		if _, err := svc.Verify(ctx, userID, models.CodeKindLogin, wrong); err == nil {
			t.Fatalf("неверный код не должен проходить проверку")
		}
	}

	// Шестая попытка проваливается даже с верным значением.
	_, err = svc.Verify(ctx, userID, models.CodeKindLogin, vc.Code)
	if !apperror.IsAttemptsExceeded(err) {
		t.Fatalf("ожидалась ошибка превышения попыток, получили %v", err)
	}
	if !store.codes[vc.ID].Used {
		t.Fatalf("код должен быть принудительно инвалидирован")
	}
}

func TestVerificationService_ExpiredCodeFails(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindSetup, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	store.expire(vc.ID)

	_, err = svc.Verify(ctx, userID, models.CodeKindSetup, vc.Code)
	if !apperror.IsNotFound(err) {
		t.Fatalf("просроченный код должен давать генерическую ошибку, получили %v", err)
	}
}

func TestVerificationService_MalformedCodeDoesNotTouchAttempts(t *testing.T) {
	svc, store, _, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	vc, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute)
	if err != nil {
		t.Fatalf("issue вернул ошибку: %v", err)
	}

	if _, err := svc.Verify(ctx, userID, models.CodeKindLogin, "abc"); err == nil {
		t.Fatalf("кривой формат кода должен быть отклонён")
	}
	if got := store.codes[vc.ID].Attempts; got != 0 {
		t.Fatalf("кривой формат не должен записывать попытку, получили %d", got)
	}
}

func TestVerificationService_SendDeliversCode(t *testing.T) {
	svc, _, _, users, mailer := newTestVerificationService()
	ctx := context.Background()

	user := &models.User{
		ID:       uuid.New(),
		Email:    "user@example.com",
		Username: "user",
	}
	users.users[user.ID] = user

	vc, err := svc.Send(ctx, user.ID, models.CodeKindLogin)
	if err != nil {
		t.Fatalf("send вернул ошибку: %v", err)
	}
	if vc == nil || vc.Code == "" {
		t.Fatalf("send должен вернуть выпущенный код")
	}

	mailer.waitForSend(t)

	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	if len(mailer.sent) != 1 || mailer.sent[0] != user.Email {
		t.Fatalf("письмо должно уйти на адрес пользователя, получили %v", mailer.sent)
	}
}

func TestVerificationService_SendUnknownUser(t *testing.T) {
	svc, _, _, _, _ := newTestVerificationService()
	ctx := context.Background()

	_, err := svc.Send(ctx, uuid.New(), models.CodeKindLogin)
	if !errors.Is(err, apperror.ErrUserNotFound) {
		t.Fatalf("ожидалась ошибка неизвестного пользователя, получили %v", err)
	}
}

func TestVerificationService_PurgeUserCancelsTimers(t *testing.T) {
	svc, store, scheduler, _, _ := newTestVerificationService()
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.Issue(ctx, userID, models.CodeKindLogin, 10*time.Minute); err != nil {
		t.Fatalf("issue login вернул ошибку: %v", err)
	}
	if _, err := svc.Issue(ctx, userID, models.CodeKindSetup, 10*time.Minute); err != nil {
		t.Fatalf("issue setup вернул ошибку: %v", err)
	}

	if err := svc.PurgeUser(ctx, userID); err != nil {
		t.Fatalf("purge вернул ошибку: %v", err)
	}

	if len(store.codes) != 0 {
		t.Fatalf("все коды пользователя должны быть удалены")
	}
	if len(scheduler.scheduled) != 0 {
		t.Fatalf("все таймеры пользователя должны быть сняты")
	}
}

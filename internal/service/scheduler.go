package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/twofactor-service/internal/goroutine"
	"github.com/ignatzorin/twofactor-service/internal/logger"
)

// CodeDeleter описывает зависимость планировщика от хранилища кодов.
type CodeDeleter interface {
	DeleteByID(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// ExpiryScheduler удаляет просроченные коды, не дожидаясь внешнего cron.
// Реестр таймеров живёт в памяти и является оптимизацией, а не источником
// истины: просроченный код в любом случае не пройдёт проверку expires_at
// при чтении, а фоновая зачистка подчищает строки, пережившие рестарт.
type ExpiryScheduler struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	deleter CodeDeleter
	log     *logrus.Entry
}

// NewExpiryScheduler создаёт планировщик отложенных удалений.
func NewExpiryScheduler(deleter CodeDeleter) *ExpiryScheduler {
	return &ExpiryScheduler{
		timers:  make(map[uuid.UUID]*time.Timer),
		deleter: deleter,
		log:     logger.WithComponent("scheduler"),
	}
}

// Schedule регистрирует отложенное удаление кода на момент expiresAt.
// Уже просроченный код удаляется сразу. Повторная регистрация того же
// codeID сначала отменяет предыдущий таймер.
func (s *ExpiryScheduler) Schedule(codeID uuid.UUID, expiresAt time.Time) {
	delay := time.Until(expiresAt)
	if delay <= 0 {
		s.Cancel(codeID)
		goroutine.SafeGo(func() { s.deleteCode(codeID) })
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[codeID]; ok {
		prev.Stop()
	}

	// Stop не гарантирует, что старый callback ещё не в пути: сработавший
	// таймер мог застрять на мьютексе. Callback действует только если он
	// всё ещё зарегистрирован за этим codeID, иначе молча выходит.
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[codeID] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, codeID)
		s.mu.Unlock()
		s.deleteCode(codeID)
	})
	s.timers[codeID] = timer
}

// Cancel снимает отложенное удаление, не выполняя его. Вызывается из всех
// путей, где код исчезает раньше срока: успешная проверка, перевыпуск,
// выключение 2FA.
func (s *ExpiryScheduler) Cancel(codeID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[codeID]; ok {
		timer.Stop()
		delete(s.timers, codeID)
	}
}

// CancelAll снимает все отложенные удаления. Используется при остановке
// сервиса и в тестах.
func (s *ExpiryScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// PendingCount возвращает число ожидающих удалений.
func (s *ExpiryScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// RunSweeper периодически удаляет просроченные коды одним запросом.
// Страховка на случай рестарта процесса, когда таймеры потеряны.
func (s *ExpiryScheduler) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.deleter.DeleteExpired(ctx)
			if err != nil {
				s.log.WithError(err).Error("sweep failed")
				continue
			}
			if deleted > 0 {
				s.log.WithField("deleted", deleted).Debug("swept expired codes")
			}
		}
	}
}

// deleteCode физически удаляет строку. Ошибка логируется и не ретраится:
// просроченный код всё равно не проходит проверку при чтении.
func (s *ExpiryScheduler) deleteCode(codeID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.deleter.DeleteByID(ctx, codeID); err != nil {
		s.log.WithError(err).WithField("code_id", codeID).Error("deferred delete failed")
	}
}

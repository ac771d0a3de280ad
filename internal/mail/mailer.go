package mail

import (
	"context"
	"fmt"

	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/models"
)

// Mailer - внешний канал доставки уведомлений. Подсистема формирует только
// полезную нагрузку {username, code, kind}; транспорт и вёрстка письма -
// забота реализации.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// CodeMessage собирает тему и текст письма с кодом подтверждения.
func CodeMessage(username, code, kind string) (subject, body string) {
	switch kind {
	case models.CodeKindLogin:
		subject = "Код для входа"
	case models.CodeKindSetup:
		subject = "Код подтверждения двухфакторной аутентификации"
	case models.CodeKindReset:
		subject = "Код восстановления доступа"
	default:
		subject = "Код подтверждения"
	}

	body = fmt.Sprintf(
		"Здравствуйте, %s!\n\nВаш код подтверждения: %s\n\nКод действует 10 минут. Если вы не запрашивали код, проигнорируйте это письмо.",
		username, code,
	)
	return subject, body
}

// LogMailer пишет письма в лог вместо отправки. Используется в development
// и в тестах.
type LogMailer struct{}

// NewLogMailer создаёт лог-реализацию канала доставки.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send логирует письмо и всегда успешен.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger.WithComponent("mail").
		WithField("to", to).
		WithField("subject", subject).
		Info(body)
	return nil
}

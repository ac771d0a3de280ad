package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationCode - одноразовый код подтверждения, привязанный к
// пользователю и назначению. Коды разных назначений не пересекаются.
type VerificationCode struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Kind      string    `db:"kind" json:"kind"`
	Code      string    `db:"code" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Used      bool      `db:"used" json:"used"`
	Attempts  int       `db:"attempts" json:"attempts"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Alive сообщает, пригоден ли код к проверке на момент now.
func (c *VerificationCode) Alive(now time.Time) bool {
	return !c.Used && c.ExpiresAt.After(now)
}

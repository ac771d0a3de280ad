package models

import (
	"time"

	"github.com/google/uuid"
)

// TrustedSession - запись "запомненного устройства", выданная после
// успешного прохождения 2FA. Отзыв мягкий: запись остаётся в базе с
// is_active = false для истории.
type TrustedSession struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	DeviceName *string   `db:"device_name" json:"device_name,omitempty"`
	IPAddress  *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string   `db:"user_agent" json:"user_agent,omitempty"`
	LastUsedAt time.Time `db:"last_used_at" json:"last_used_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Valid сообщает, действительна ли сессия на момент now.
func (s *TrustedSession) Valid(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

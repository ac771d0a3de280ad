package repository

import (
	"errors"
	"testing"

	"github.com/ignatzorin/twofactor-service/internal/repository/common"
)

func TestSentinelsWrapCommonCategories(t *testing.T) {
	notFound := []error{ErrUserNotFound, ErrCodeNotFound, ErrSessionNotFound}
	for _, err := range notFound {
		if !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("ошибка %v должна попадать в категорию common.ErrNotFound", err)
		}
	}

	if !errors.Is(ErrSessionExists, common.ErrAlreadyExists) {
		t.Fatalf("ошибка %v должна попадать в категорию common.ErrAlreadyExists", ErrSessionExists)
	}

	// Потреблённый код - не "не найден": конфликт гонки различим.
	if errors.Is(ErrCodeConsumed, common.ErrNotFound) {
		t.Fatalf("ErrCodeConsumed не должен смешиваться с категорией not found")
	}
}

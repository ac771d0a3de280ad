package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Scheduler - наблюдаемая часть планировщика отложенных удалений.
type Scheduler interface {
	PendingCount() int
}

// HealthHandler предоставляет endpoint для проверки здоровья сервиса.
type HealthHandler struct {
	db        *sqlx.DB
	scheduler Scheduler
}

// NewHealthHandler создаёт новый health handler.
func NewHealthHandler(db *sqlx.DB, scheduler Scheduler) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler}
}

// HealthResponse представляет ответ health check.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	PendingCodes int               `json:"pending_codes"`
	Checks       map[string]string `json:"checks"`
}

// Health обрабатывает GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	// Проверка подключения к БД
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		checks["database"] = "healthy"
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Timestamp:    time.Now(),
		PendingCodes: h.scheduler.PendingCount(),
		Checks:       checks,
	})
}

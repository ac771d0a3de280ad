package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/twofactor-service/internal/http/handlers/common"
	"github.com/ignatzorin/twofactor-service/internal/service"
)

// SessionHandler обслуживает маршруты доверенных сессий.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler создаёт новый хэндлер.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type validateSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Validate обрабатывает POST /api/sessions/validate.
func (h *SessionHandler) Validate(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req validateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "идентификатор сессии обязателен"})
		return
	}

	session, err := h.sessions.Validate(c.Request.Context(), userID, req.SessionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "session": session})
}

// List обрабатывает GET /api/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// Revoke обрабатывает DELETE /api/sessions/:sessionID.
func (h *SessionHandler) Revoke(c *gin.Context) {
	if _, err := common.CurrentUserID(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	sessionID := c.Param("sessionID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "идентификатор сессии обязателен"})
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// RevokeAll обрабатывает DELETE /api/sessions.
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.RevokeAll(c.Request.Context(), userID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

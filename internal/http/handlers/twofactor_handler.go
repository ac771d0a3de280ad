package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/twofactor-service/internal/http/handlers/common"
	"github.com/ignatzorin/twofactor-service/internal/models"
	"github.com/ignatzorin/twofactor-service/internal/service"
)

// TwoFactorHandler обслуживает маршруты включения/выключения 2FA и
// проверки кодов.
type TwoFactorHandler struct {
	twofactor    *service.TwoFactorService
	verification *service.VerificationService
	sessions     *service.SessionService
}

// NewTwoFactorHandler создаёт новый хэндлер.
func NewTwoFactorHandler(twofactor *service.TwoFactorService, verification *service.VerificationService, sessions *service.SessionService) *TwoFactorHandler {
	return &TwoFactorHandler{
		twofactor:    twofactor,
		verification: verification,
		sessions:     sessions,
	}
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

type confirmRequest struct {
	Code string `json:"code" binding:"required"`
}

type sendCodeRequest struct {
	Kind string `json:"kind" binding:"required"`
}

type verifyCodeRequest struct {
	Kind       string `json:"kind" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Remember   bool   `json:"remember"`
	SessionID  string `json:"session_id"`
	DeviceName string `json:"device_name"`
}

// Enable обрабатывает POST /api/2fa/enable.
func (h *TwoFactorHandler) Enable(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "пароль обязателен"})
		return
	}

	if err := h.twofactor.Enable(c.Request.Context(), userID, req.Password); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "pending", "message": "код подтверждения отправлен"})
}

// Confirm обрабатывает POST /api/2fa/confirm.
func (h *TwoFactorHandler) Confirm(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "код обязателен"})
		return
	}

	if err := h.twofactor.ConfirmSetup(c.Request.Context(), userID, req.Code); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "enabled"})
}

// Disable обрабатывает POST /api/2fa/disable.
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "пароль обязателен"})
		return
	}

	if err := h.twofactor.Disable(c.Request.Context(), userID, req.Password); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

// SendCode обрабатывает POST /api/2fa/send: выпуск и отправка кода
// для входа или восстановления.
func (h *TwoFactorHandler) SendCode(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "назначение кода обязательно"})
		return
	}

	// SETUP коды выпускаются только через процесс включения 2FA.
	if req.Kind == models.CodeKindSetup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "неизвестное назначение кода"})
		return
	}

	if _, err := h.verification.Send(c.Request.Context(), userID, req.Kind); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// VerifyCode обрабатывает POST /api/2fa/verify. При успешной проверке
// LOGIN кода и remember=true создаётся доверенная сессия, чтобы не
// спрашивать код на этом устройстве повторно.
func (h *TwoFactorHandler) VerifyCode(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "код и назначение обязательны"})
		return
	}

	// SETUP коды проверяются только через /2fa/confirm: этот маршрут не
	// переводит аккаунт в ENABLED и лишь сжёг бы код включения.
	if req.Kind == models.CodeKindSetup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "неизвестное назначение кода"})
		return
	}

	result, err := h.verification.Verify(c.Request.Context(), userID, req.Kind, req.Code)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"status": "verified", "code_id": result.CodeID}

	if req.Remember && req.Kind == models.CodeKindLogin && req.SessionID != "" {
		session, err := h.sessions.Create(c.Request.Context(), service.CreateSessionInput{
			UserID:     userID,
			SessionID:  req.SessionID,
			DeviceName: common.OptionalString(req.DeviceName),
			IPAddress:  common.OptionalString(c.ClientIP()),
			UserAgent:  common.OptionalString(c.Request.UserAgent()),
		})
		if err != nil {
			c.Error(err)
			return
		}
		resp["session"] = session
	}

	c.JSON(http.StatusOK, resp)
}

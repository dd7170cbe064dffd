package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

type Handler struct {
	auth   *Authenticator
	logger *zap.Logger
}

func NewHandler(a *Authenticator, logger *zap.Logger) *Handler {
	return &Handler{auth: a, logger: logger}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/login", h.Login)
	r.POST("/api/logout", h.Logout)
}

func (h *Handler) Login(c *gin.Context) {
	if !h.auth.Enabled() {
		c.JSON(http.StatusOK, gin.H{"message": "authentication disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	token, err := h.auth.Login(req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		h.logger.Warn("Dashboard login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, token, int(h.auth.SessionTTL().Seconds()), "/", "", h.auth.cfg.SecureCookie, true)

	h.logger.Info("Dashboard login succeeded")
	c.JSON(http.StatusOK, gin.H{"message": "login successful"})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, "", -1, "/", "", h.auth.cfg.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

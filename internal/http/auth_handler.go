package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authflow/internal/service"
)

// AuthHandler expone registro, verificación, reenvío de código y login.
type AuthHandler struct {
	logger       *zap.Logger
	registration *service.RegistrationService
	auth         *service.AuthService
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, registration *service.RegistrationService, auth *service.AuthService) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		logger:       logger,
		registration: registration,
		auth:         auth,
	}
}

// Register maneja POST /register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
		return
	}

	res, err := h.registration.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(c, err, "Server error during registration")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":        "Registration initiated. Please check your email for OTP verification.",
		"registrationId": res.RegistrationID,
		"expiresAt":      res.ExpiresAt,
	})
}

// VerifyOTP maneja POST /verify-otp.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		RegistrationID string `json:"registrationId"`
		Email          string `json:"email"`
		OTP            string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
		return
	}

	account, err := h.registration.VerifyCode(c.Request.Context(), service.VerifyInput{
		RegistrationID: req.RegistrationID,
		Email:          req.Email,
		Code:           req.OTP,
	})
	if err != nil {
		h.writeError(c, err, "Server error during OTP verification")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email verified successfully and account created. You can now login.",
		"userId":  account.ID,
	})
}

// ResendOTP maneja POST /resend-otp.
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req struct {
		RegistrationID string `json:"registrationId"`
		Email          string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid resend request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
		return
	}

	res, err := h.registration.ResendCode(c.Request.Context(), service.ResendInput{
		RegistrationID: req.RegistrationID,
		Email:          req.Email,
	})
	if err != nil {
		h.writeError(c, err, "Server error while resending OTP")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "New OTP sent to your email",
		"expiresAt": res.ExpiresAt,
	})
}

// Login maneja POST /login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request"})
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err, "Server error during login")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Login successful",
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"user":      res.Account,
	})
}

// Me maneja GET /me; requiere JWTAuthMiddleware.
func (h *AuthHandler) Me(c *gin.Context) {
	accountID, ok := GetAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
		return
	}
	summary, err := h.auth.CurrentAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "account not found"})
			return
		}
		h.logger.Error("load current account failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": summary})
}

// writeError traduce errores del servicio a status HTTP.
func (h *AuthHandler) writeError(c *gin.Context, err error, fallback string) {
	var verr *service.ValidationError
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"message": firstFieldMessage(verr), "errors": verr.Fields})
	case errors.Is(err, service.ErrAccountExists):
		c.JSON(http.StatusBadRequest, gin.H{"message": "User already exists with this email"})
	case errors.Is(err, service.ErrPendingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Registration not found or expired. Please register again."})
	case errors.Is(err, service.ErrCodeInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid OTP"})
	case errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{"message": "OTP has expired. Please register again."})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email or password"})
	case errors.As(err, &cooldown):
		c.Header("Retry-After", retryAfterSeconds(cooldown.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "Please wait before requesting a new OTP"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests"})
	case errors.Is(err, service.ErrDeliveryFailed):
		h.logger.Error("otp delivery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send verification email"})
	default:
		h.logger.Error("auth request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": fallback})
	}
}

// firstFieldMessage elige un mensaje estable para el campo "message".
func firstFieldMessage(verr *service.ValidationError) string {
	for _, field := range []string{"name", "email", "password", "registrationId", "otp"} {
		if msg, ok := verr.Fields[field]; ok {
			return msg
		}
	}
	return "validation failed"
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

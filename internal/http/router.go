package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"authflow/internal/service"
)

// HealthCheck informa si las dependencias del proceso responden.
type HealthCheck func(ctx context.Context) error

// NewRouter configura el router de Gin con middlewares y rutas de autenticación.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	jwtSvc *service.JWTService,
	health HealthCheck,
) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", healthHandler(logger, health))

	// Mismas rutas en la raíz y bajo /api/auth.
	for _, g := range []*gin.RouterGroup{r.Group(""), r.Group("/api/auth")} {
		g.POST("/register", authH.Register)
		g.POST("/verify-otp", authH.VerifyOTP)
		g.POST("/resend-otp", authH.ResendOTP)
		g.POST("/login", authH.Login)
		g.GET("/me", JWTAuthMiddleware(jwtSvc), authH.Me)
	}

	return r
}

func healthHandler(logger *zap.Logger, health HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

package email

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sender define la interfaz para envio de códigos de verificación.
type Sender interface {
	SendVerificationCode(ctx context.Context, toEmail, name, code string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendVerificationCode(_ context.Context, _, _, _ string, _ time.Time) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// LogSender escribe el código en el log en lugar de enviarlo. Solo para desarrollo.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendVerificationCode(_ context.Context, toEmail, name, code string, expiresAt time.Time) error {
	s.logger.Info("verification code (log only)",
		zap.String("to", toEmail),
		zap.String("name", name),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

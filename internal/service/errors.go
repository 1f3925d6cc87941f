package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrAccountExists      = errors.New("user already exists with this email")
	ErrAccountNotFound    = errors.New("account not found")
	ErrPendingNotFound    = errors.New("registration not found or expired")
	ErrCodeInvalid        = errors.New("invalid otp")
	ErrCodeExpired        = errors.New("otp has expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDeliveryFailed     = errors.New("email send failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrResendCooldown     = errors.New("resend cooldown active")
)

// ValidationError lleva el mensaje de cada campo inválido.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newFieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// CooldownError indica cuánto falta para poder reenviar el código.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrResendCooldown, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrResendCooldown }

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, 7*24*time.Hour, cfg.JWTTTL)
	require.Equal(t, 10*time.Minute, cfg.OTPTTL)
	require.Equal(t, time.Minute, cfg.OTPResendCooldown)
	require.Equal(t, 10*time.Minute, cfg.PendingSweepInterval)
	require.Equal(t, 5*time.Second, cfg.EmailSendTimeout)
	require.True(t, cfg.DBAutoMigrate)
	require.Empty(t, cfg.DatabaseURL)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadConfig_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("OTP_RESEND_COOLDOWN", "0s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, 5*time.Minute, cfg.OTPTTL)
	require.Zero(t, cfg.OTPResendCooldown)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWTTTL:               time.Hour,
			OTPTTL:               time.Minute,
			OTPRateLimitMax:      3,
			OTPRateLimitWindow:   time.Minute,
			PendingSweepInterval: time.Minute,
			EmailSendTimeout:     time.Second,
			BcryptCost:           10,
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.OTPTTL = 0
	require.ErrorContains(t, cfg.Validate(), "OTP_TTL")

	cfg = valid()
	cfg.BcryptCost = 2
	require.ErrorContains(t, cfg.Validate(), "BCRYPT_COST")

	cfg = valid()
	cfg.OTPResendCooldown = -time.Second
	require.ErrorContains(t, cfg.Validate(), "OTP_RESEND_COOLDOWN")
}

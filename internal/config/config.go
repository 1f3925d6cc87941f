package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"168h"`

	OTPTTL               time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPResendCooldown    time.Duration `env:"OTP_RESEND_COOLDOWN" envDefault:"60s"`
	OTPRateLimitMax      int           `env:"OTP_RATE_LIMIT_MAX" envDefault:"5"`
	OTPRateLimitWindow   time.Duration `env:"OTP_RATE_LIMIT_WINDOW" envDefault:"10m"`
	PendingSweepInterval time.Duration `env:"PENDING_SWEEP_INTERVAL" envDefault:"10m"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"10"`

	EmailSendTimeout time.Duration `env:"EMAIL_SEND_TIMEOUT" envDefault:"5s"`
	EmailLogOnly     bool          `env:"EMAIL_LOG_ONLY" envDefault:"false"`
	SMTPHost         string        `env:"SMTP_HOST"`
	SMTPPort         int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser         string        `env:"SMTP_USER"`
	SMTPPass         string        `env:"SMTP_PASS"`
	SMTPFrom         string        `env:"SMTP_FROM"`
	SMTPFromName     string        `env:"SMTP_FROM_NAME"`
	SMTPUseTLS       bool          `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment indica si el servicio corre en modo desarrollo.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// Validate rechaza combinaciones que dejarían el flujo de registro inutilizable.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"JWT_TTL":                c.JWTTTL,
		"OTP_TTL":                c.OTPTTL,
		"PENDING_SWEEP_INTERVAL": c.PendingSweepInterval,
		"EMAIL_SEND_TIMEOUT":     c.EmailSendTimeout,
		"OTP_RATE_LIMIT_WINDOW":  c.OTPRateLimitWindow,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.OTPResendCooldown < 0 {
		errs = append(errs, errors.New("OTP_RESEND_COOLDOWN must not be negative"))
	}
	if c.OTPRateLimitMax <= 0 {
		errs = append(errs, errors.New("OTP_RATE_LIMIT_MAX must be positive"))
	}
	// bcrypt acepta costos entre 4 y 31.
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST out of range: %d", c.BcryptCost))
	}
	return errors.Join(errs...)
}

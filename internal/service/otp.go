package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"
)

const (
	otpDigits     = 6
	defaultOTPTTL = 10 * time.Minute
)

var otpRange = big.NewInt(1000000)

// CodeGenerator produce un código de un solo uso y su vencimiento.
type CodeGenerator interface {
	Generate() (code string, expiresAt time.Time, err error)
}

// OTPGenerator genera códigos numéricos de 6 dígitos con relleno de ceros.
// El código es un segundo factor de bajo riesgo (confirmar un email); aun así
// se usa crypto/rand como fuente.
type OTPGenerator struct {
	ttl time.Duration
	now func() time.Time
}

func NewOTPGenerator(ttl time.Duration, now func() time.Time) *OTPGenerator {
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	if now == nil {
		now = time.Now
	}
	return &OTPGenerator{ttl: ttl, now: now}
}

func (g *OTPGenerator) Generate() (string, time.Time, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", time.Time{}, err
	}
	code := fmt.Sprintf("%0*d", otpDigits, n.Int64())
	return code, g.now().UTC().Add(g.ttl), nil
}

func codesEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func isValidOTPCode(code string) bool {
	if len(code) != otpDigits {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

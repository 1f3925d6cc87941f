package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"authflow/internal/domain"
	"authflow/internal/repository"
)

// AuthService autentica cuentas existentes y emite credenciales.
type AuthService struct {
	logger   *zap.Logger
	accounts repository.AccountRepository
	jwt      *JWTService

	dummyOnce sync.Once
	dummyHash []byte
}

type LoginResult struct {
	Account   domain.AccountSummary
	Token     string
	ExpiresAt time.Time
}

func NewAuthService(logger *zap.Logger, accounts repository.AccountRepository, jwtSvc *JWTService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		logger:   logger,
		accounts: accounts,
		jwt:      jwtSvc,
	}
}

// Login no distingue entre email inexistente y contraseña incorrecta.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	if s.accounts == nil || s.jwt == nil {
		return LoginResult{}, errors.New("auth service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.burnCompare(password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}
	if account.PasswordHash == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.Issue(account.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue credential: %w", err)
	}
	return LoginResult{
		Account:   account.Summary(),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// CurrentAccount resuelve la cuenta asociada a una credencial ya validada.
func (s *AuthService) CurrentAccount(ctx context.Context, accountID string) (domain.AccountSummary, error) {
	if s.accounts == nil {
		return domain.AccountSummary{}, errors.New("auth service not configured")
	}
	account, err := s.accounts.GetByID(ctx, strings.TrimSpace(accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccountSummary{}, ErrAccountNotFound
		}
		return domain.AccountSummary{}, fmt.Errorf("lookup account: %w", err)
	}
	return account.Summary(), nil
}

// burnCompare iguala el tiempo de respuesta cuando el email no existe.
func (s *AuthService) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

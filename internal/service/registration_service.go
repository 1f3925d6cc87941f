package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"authflow/internal/domain"
	"authflow/internal/email"
	"authflow/internal/repository"
)

const (
	defaultResendCooldown = 60 * time.Second
	defaultSendTimeout    = 5 * time.Second
	discardTimeout        = 2 * time.Second
)

// RegistrationService conduce el alta en tres pasos: registro pendiente,
// confirmación del código y promoción a cuenta durable.
type RegistrationService struct {
	logger      *zap.Logger
	accounts    repository.AccountRepository
	pending     PendingStore
	emailSender email.Sender
	otpLimiter  OTPRateLimiter
	locks       *emailLocks

	now            func() time.Time
	codes          CodeGenerator
	otpTTL         time.Duration
	resendCooldown time.Duration
	sendTimeout    time.Duration
	bcryptCost     int
}

// RegistrationOption ajusta el servicio (principalmente para tests).
type RegistrationOption func(*RegistrationService)

func WithClock(now func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithCodeGenerator(g CodeGenerator) RegistrationOption {
	return func(s *RegistrationService) {
		if g != nil {
			s.codes = g
		}
	}
}

func WithOTPTTL(ttl time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if ttl > 0 {
			s.otpTTL = ttl
		}
	}
}

// WithResendCooldown fija la espera mínima entre envíos; 0 la desactiva.
func WithResendCooldown(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d >= 0 {
			s.resendCooldown = d
		}
	}
}

func WithSendTimeout(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

func WithBcryptCost(cost int) RegistrationOption {
	return func(s *RegistrationService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func NewRegistrationService(
	logger *zap.Logger,
	accounts repository.AccountRepository,
	pending PendingStore,
	emailSender email.Sender,
	otpLimiter OTPRateLimiter,
	opts ...RegistrationOption,
) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	if otpLimiter == nil {
		otpLimiter = NewOTPRateLimiter(defaultOTPTTL, 5)
	}
	s := &RegistrationService{
		logger:         logger,
		accounts:       accounts,
		pending:        pending,
		emailSender:    emailSender,
		otpLimiter:     otpLimiter,
		locks:          newEmailLocks(),
		now:            time.Now,
		otpTTL:         defaultOTPTTL,
		resendCooldown: defaultResendCooldown,
		sendTimeout:    defaultSendTimeout,
		bcryptCost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codes == nil {
		s.codes = NewOTPGenerator(s.otpTTL, s.now)
	}
	return s
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type RegisterResult struct {
	RegistrationID string
	ExpiresAt      time.Time
}

// VerifyInput identifica el registro por RegistrationID o, si falta, por Email.
type VerifyInput struct {
	RegistrationID string
	Email          string
	Code           string
}

type ResendInput struct {
	RegistrationID string
	Email          string
}

type ResendResult struct {
	ExpiresAt time.Time
}

// Register crea un registro pendiente y envía el código. Si el envío falla el
// registro se descarta para no dejar entradas imposibles de confirmar.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	if s.accounts == nil {
		return RegisterResult{}, errors.New("registration service not configured")
	}

	name := strings.TrimSpace(input.Name)
	emailAddr := normalizeEmail(input.Email)
	if err := validateRegister(registerFields{Name: name, Email: emailAddr, Password: input.Password}); err != nil {
		return RegisterResult{}, err
	}

	if !s.otpLimiter.Allow(ctx, emailAddr) {
		return RegisterResult{}, ErrRateLimited
	}

	exists, err := s.accountExists(ctx, emailAddr)
	if err != nil {
		return RegisterResult{}, err
	}
	if exists {
		return RegisterResult{}, ErrAccountExists
	}

	now := s.now().UTC()
	if removed, err := s.pending.SweepExpired(ctx, now); err != nil {
		s.logger.Warn("sweep before register failed", zap.Error(err))
	} else if removed > 0 {
		s.logger.Debug("expired registrations swept", zap.Int("removed", removed))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	code, expiresAt, err := s.codes.Generate()
	if err != nil {
		return RegisterResult{}, fmt.Errorf("generate otp: %w", err)
	}

	id, err := s.pending.Put(ctx, domain.PendingRegistration{
		Email:         emailAddr,
		Name:          name,
		PasswordHash:  string(hash),
		Code:          code,
		CodeExpiresAt: expiresAt,
		CodeSentAt:    now,
		CreatedAt:     now,
	})
	if err != nil {
		return RegisterResult{}, fmt.Errorf("store pending registration: %w", err)
	}

	if err := s.deliver(ctx, emailAddr, name, code, expiresAt); err != nil {
		s.discard(ctx, id)
		return RegisterResult{}, err
	}

	s.logger.Info("registration pending", zap.String("registration_id", id), zap.String("email", emailAddr))
	return RegisterResult{RegistrationID: id, ExpiresAt: expiresAt}, nil
}

// VerifyCode confirma el código y promueve el registro a cuenta. La
// comprobación de unicidad, la creación y el borrado del pendiente corren bajo
// el lock del email; si aun así la base rechaza el email por duplicado, gana
// la cuenta existente.
func (s *RegistrationService) VerifyCode(ctx context.Context, input VerifyInput) (domain.Account, error) {
	if s.accounts == nil {
		return domain.Account{}, errors.New("registration service not configured")
	}

	code := strings.TrimSpace(input.Code)
	if code == "" {
		return domain.Account{}, newFieldError("otp", "otp is required")
	}
	entry, err := s.resolve(ctx, input.RegistrationID, input.Email)
	if err != nil {
		return domain.Account{}, err
	}

	unlock := s.locks.Lock(entry.Email)
	defer unlock()

	// El registro pudo consumirse o reemplazarse mientras esperábamos el lock.
	entry, err = s.pending.GetByID(ctx, entry.ID)
	if err != nil {
		return domain.Account{}, err
	}

	if !isValidOTPCode(code) || !codesEqual(code, entry.Code) {
		return domain.Account{}, ErrCodeInvalid
	}
	if entry.Expired(s.now().UTC()) {
		s.discard(ctx, entry.ID)
		return domain.Account{}, ErrCodeExpired
	}

	exists, err := s.accountExists(ctx, entry.Email)
	if err != nil {
		return domain.Account{}, err
	}
	if exists {
		s.discard(ctx, entry.ID)
		return domain.Account{}, ErrAccountExists
	}

	account := domain.Account{
		ID:           uuid.NewString(),
		Name:         entry.Name,
		Email:        entry.Email,
		PasswordHash: entry.PasswordHash,
		Verified:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.discard(ctx, entry.ID)
			return domain.Account{}, ErrAccountExists
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.discard(ctx, entry.ID)

	s.logger.Info("account created", zap.String("account_id", account.ID), zap.String("email", account.Email))
	return account, nil
}

// ResendCode envía un código nuevo. El código anterior sigue vigente hasta que
// el envío del nuevo se confirma. Cooldown, envío y actualización corren bajo
// el lock del email, así dos reenvíos simultáneos no pasan ambos el cooldown.
func (s *RegistrationService) ResendCode(ctx context.Context, input ResendInput) (ResendResult, error) {
	entry, err := s.resolve(ctx, input.RegistrationID, input.Email)
	if err != nil {
		return ResendResult{}, err
	}

	unlock := s.locks.Lock(entry.Email)
	defer unlock()

	if locker, ok := s.pending.(resendLocker); ok {
		release, err := locker.LockResend(ctx, entry.ID, s.sendTimeout+time.Second)
		if errors.Is(err, errResendInFlight) {
			return ResendResult{}, &CooldownError{RetryAfter: s.inFlightRetryAfter()}
		}
		if err != nil {
			return ResendResult{}, err
		}
		defer release()
	}

	// Releer: otro reenvío pudo actualizar CodeSentAt mientras esperábamos.
	entry, err = s.pending.GetByID(ctx, entry.ID)
	if err != nil {
		return ResendResult{}, err
	}

	now := s.now().UTC()
	if s.resendCooldown > 0 && !entry.CodeSentAt.IsZero() {
		if wait := entry.CodeSentAt.Add(s.resendCooldown).Sub(now); wait > 0 {
			return ResendResult{}, &CooldownError{RetryAfter: wait}
		}
	}
	if !s.otpLimiter.Allow(ctx, entry.Email) {
		return ResendResult{}, ErrRateLimited
	}

	code, expiresAt, err := s.codes.Generate()
	if err != nil {
		return ResendResult{}, fmt.Errorf("generate otp: %w", err)
	}
	if err := s.deliver(ctx, entry.Email, entry.Name, code, expiresAt); err != nil {
		return ResendResult{}, err
	}
	if err := s.pending.UpdateCode(ctx, entry.ID, code, expiresAt, now); err != nil {
		return ResendResult{}, err
	}

	s.logger.Info("otp resent", zap.String("registration_id", entry.ID))
	return ResendResult{ExpiresAt: expiresAt}, nil
}

func (s *RegistrationService) inFlightRetryAfter() time.Duration {
	if s.resendCooldown > 0 {
		return s.resendCooldown
	}
	return time.Second
}

func (s *RegistrationService) resolve(ctx context.Context, registrationID, emailAddr string) (domain.PendingRegistration, error) {
	registrationID = strings.TrimSpace(registrationID)
	emailAddr = normalizeEmail(emailAddr)
	switch {
	case registrationID != "":
		return s.pending.GetByID(ctx, registrationID)
	case emailAddr != "":
		return s.pending.GetByEmail(ctx, emailAddr)
	default:
		return domain.PendingRegistration{}, newFieldError("registrationId", "either registration id or email is required")
	}
}

func (s *RegistrationService) deliver(ctx context.Context, to, name, code string, expiresAt time.Time) error {
	if s.emailSender == nil {
		return ErrDeliveryFailed
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.emailSender.SendVerificationCode(sendCtx, to, name, code, expiresAt); err != nil {
		s.logger.Warn("send verification otp failed", zap.Error(err), zap.String("email", to))
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *RegistrationService) accountExists(ctx context.Context, emailAddr string) (bool, error) {
	_, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("lookup account: %w", err)
}

// discard borra el registro aunque ctx ya esté cancelado (cliente desconectado
// o timeout del envío).
func (s *RegistrationService) discard(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := s.pending.Remove(ctx, id); err != nil {
		s.logger.Warn("remove pending registration failed", zap.Error(err), zap.String("registration_id", id))
	}
}

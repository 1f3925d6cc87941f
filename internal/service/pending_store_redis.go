package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"authflow/internal/domain"
)

// KEYS[1]=entrada, KEYS[2]=índice por email; ARGV[1]=payload, ARGV[2]=ttl ms,
// ARGV[3]=prefijo de entradas, ARGV[4]=id.
const redisPendingPutScript = `
local old = redis.call("GET", KEYS[2])
if old then
  redis.call("DEL", ARGV[3] .. old)
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[2], ARGV[4], "PX", ARGV[2])
return 1
`

// KEYS[1]=entrada, KEYS[2]=índice por email; ARGV[1]=payload, ARGV[2]=ttl ms.
const redisPendingUpdateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`

// KEYS[1]=entrada; ARGV[1]=prefijo del índice por email, ARGV[2]=id.
const redisPendingRemoveScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local entry = cjson.decode(raw)
local emailKey = ARGV[1] .. entry.email
if redis.call("GET", emailKey) == ARGV[2] then
  redis.call("DEL", emailKey)
end
redis.call("DEL", KEYS[1])
return 1
`

// KEYS[1]=lock de reenvío; ARGV[1]=token del dueño.
const redisResendReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type redisPendingClient interface {
	redisEvaler
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisPendingStore guarda los registros pendientes en Redis para que
// sobrevivan reinicios y se compartan entre instancias. Cada clave vive hasta
// el vencimiento del código más un margen, así un código vencido todavía se
// informa como vencido antes de desaparecer.
type RedisPendingStore struct {
	client       redisPendingClient
	entryPrefix  string
	emailPrefix  string
	resendPrefix string
	grace        time.Duration
	now          func() time.Time
}

func NewRedisPendingStore(client *redis.Client, grace time.Duration) *RedisPendingStore {
	if client == nil {
		return nil
	}
	return newRedisPendingStore(client, grace, time.Now)
}

func newRedisPendingStore(client redisPendingClient, grace time.Duration, now func() time.Time) *RedisPendingStore {
	if grace < 0 {
		grace = 0
	}
	return &RedisPendingStore{
		client:      client,
		entryPrefix:  "auth:pending:id:",
		emailPrefix:  "auth:pending:email:",
		resendPrefix: "auth:pending:resend:",
		grace:        grace,
		now:          now,
	}
}

func (s *RedisPendingStore) Put(ctx context.Context, entry domain.PendingRegistration) (string, error) {
	entry.ID = newRegistrationID()
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	keys := []string{s.entryPrefix + entry.ID, s.emailPrefix + entry.Email}
	err = s.client.Eval(ctx, redisPendingPutScript, keys,
		string(payload), s.ttlMillis(entry.CodeExpiresAt), s.entryPrefix, entry.ID).Err()
	if err != nil {
		return "", fmt.Errorf("redis pending put: %w", err)
	}
	return entry.ID, nil
}

func (s *RedisPendingStore) GetByID(ctx context.Context, id string) (domain.PendingRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.entryPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingRegistration{}, ErrPendingNotFound
	}
	if err != nil {
		return domain.PendingRegistration{}, fmt.Errorf("redis pending get: %w", err)
	}
	var entry domain.PendingRegistration
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.PendingRegistration{}, fmt.Errorf("redis pending decode: %w", err)
	}
	return entry, nil
}

func (s *RedisPendingStore) GetByEmail(ctx context.Context, email string) (domain.PendingRegistration, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	id, err := s.client.Get(lookupCtx, s.emailPrefix+normalizeEmail(email)).Result()
	cancel()
	if errors.Is(err, redis.Nil) {
		return domain.PendingRegistration{}, ErrPendingNotFound
	}
	if err != nil {
		return domain.PendingRegistration{}, fmt.Errorf("redis pending get by email: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdateCode no es atómico entre lectura y escritura; el servicio lo invoca
// bajo el lock del email.
func (s *RedisPendingStore) UpdateCode(ctx context.Context, id, code string, expiresAt, sentAt time.Time) error {
	entry, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	entry.Code = code
	entry.CodeExpiresAt = expiresAt
	entry.CodeSentAt = sentAt
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()
	keys := []string{s.entryPrefix + id, s.emailPrefix + entry.Email}
	updated, err := s.client.Eval(ctx, redisPendingUpdateScript, keys,
		string(payload), s.ttlMillis(expiresAt)).Int()
	if err != nil {
		return fmt.Errorf("redis pending update: %w", err)
	}
	if updated == 0 {
		return ErrPendingNotFound
	}
	return nil
}

func (s *RedisPendingStore) Remove(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()
	err := s.client.Eval(ctx, redisPendingRemoveScript, []string{s.entryPrefix + id}, s.emailPrefix, id).Err()
	if err != nil {
		return fmt.Errorf("redis pending remove: %w", err)
	}
	return nil
}

// LockResend reserva el reenvío de id entre instancias hasta release o ttl.
// Si otra instancia ya lo tiene devuelve errResendInFlight.
func (s *RedisPendingStore) LockResend(ctx context.Context, id string, ttl time.Duration) (func(), error) {
	key := s.resendPrefix + id
	token := uuid.NewString()

	lockCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	acquired, err := s.client.SetNX(lockCtx, key, token, ttl).Result()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("redis resend lock: %w", err)
	}
	if !acquired {
		return nil, errResendInFlight
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisCallTimeout)
		defer cancel()
		_ = s.client.Eval(releaseCtx, redisResendReleaseScript, []string{key}, token).Err()
	}, nil
}

// SweepExpired borra entradas cuyo código venció y que siguen dentro del
// margen; el resto lo expira Redis por TTL.
func (s *RedisPendingStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	var cursor uint64
	for {
		scanCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
		keys, next, err := s.client.Scan(scanCtx, cursor, s.entryPrefix+"*", 100).Result()
		cancel()
		if err != nil {
			return removed, fmt.Errorf("redis pending scan: %w", err)
		}
		for _, key := range keys {
			id := key[len(s.entryPrefix):]
			entry, err := s.GetByID(ctx, id)
			if errors.Is(err, ErrPendingNotFound) {
				continue
			}
			if err != nil {
				return removed, err
			}
			if entry.CodeExpiresAt.Before(now) {
				if err := s.Remove(ctx, id); err != nil {
					return removed, err
				}
				removed++
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (s *RedisPendingStore) ttlMillis(expiresAt time.Time) int64 {
	ttl := expiresAt.Sub(s.now()) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl.Milliseconds()
}

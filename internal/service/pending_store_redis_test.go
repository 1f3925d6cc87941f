package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakePendingRedis emula en Go los scripts del store sobre un mapa.
type fakePendingRedis struct {
	data    map[string]string
	ttls    map[string]int64
	evalErr error
}

func newFakePendingRedis() *fakePendingRedis {
	return &fakePendingRedis{data: map[string]string{}, ttls: map[string]int64{}}
}

func (f *fakePendingRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if f.evalErr != nil {
		cmd.SetErr(f.evalErr)
		return cmd
	}
	switch script {
	case redisPendingPutScript:
		if old, ok := f.data[keys[1]]; ok {
			delete(f.data, args[2].(string)+old)
		}
		f.data[keys[0]] = args[0].(string)
		f.data[keys[1]] = args[3].(string)
		f.ttls[keys[0]] = args[1].(int64)
		cmd.SetVal(int64(1))
	case redisPendingUpdateScript:
		if _, ok := f.data[keys[0]]; !ok {
			cmd.SetVal(int64(0))
			return cmd
		}
		f.data[keys[0]] = args[0].(string)
		f.ttls[keys[0]] = args[1].(int64)
		cmd.SetVal(int64(1))
	case redisPendingRemoveScript:
		raw, ok := f.data[keys[0]]
		if !ok {
			cmd.SetVal(int64(0))
			return cmd
		}
		var entry struct {
			Email string `json:"email"`
		}
		_ = json.Unmarshal([]byte(raw), &entry)
		emailKey := args[0].(string) + entry.Email
		if f.data[emailKey] == args[1].(string) {
			delete(f.data, emailKey)
		}
		delete(f.data, keys[0])
		cmd.SetVal(int64(1))
	case redisResendReleaseScript:
		if f.data[keys[0]] == args[0].(string) {
			delete(f.data, keys[0])
			cmd.SetVal(int64(1))
			return cmd
		}
		cmd.SetVal(int64(0))
	default:
		cmd.SetErr(fmt.Errorf("unexpected script"))
	}
	return cmd
}

func (f *fakePendingRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	val, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakePendingRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.data[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration.Milliseconds()
	cmd.SetVal(true)
	return cmd
}

func (f *fakePendingRedis) Scan(ctx context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	cmd := redis.NewScanCmd(ctx, nil)
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	cmd.SetVal(keys, 0)
	return cmd
}

func TestRedisPendingStore_Lifecycle(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := newFakePendingRedis()
	store := newRedisPendingStore(fake, 10*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	id, err := store.Put(ctx, pendingFor("ada@example.com", now.Add(10*time.Minute)))
	require.NoError(t, err)
	require.Contains(t, fake.data, "auth:pending:id:"+id)
	require.Equal(t, id, fake.data["auth:pending:email:ada@example.com"])
	require.Equal(t, (20 * time.Minute).Milliseconds(), fake.ttls["auth:pending:id:"+id])

	got, err := store.GetByEmail(ctx, " Ada@Example.com")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "482913", got.Code)

	newExp := now.Add(15 * time.Minute)
	require.NoError(t, store.UpdateCode(ctx, id, "019284", newExp, now))
	got, err = store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "019284", got.Code)
	require.True(t, got.CodeExpiresAt.Equal(newExp))

	require.NoError(t, store.Remove(ctx, id))
	require.NoError(t, store.Remove(ctx, id))
	_, err = store.GetByID(ctx, id)
	require.ErrorIs(t, err, ErrPendingNotFound)
	_, err = store.GetByEmail(ctx, "ada@example.com")
	require.ErrorIs(t, err, ErrPendingNotFound)
}

func TestRedisPendingStore_PutSupersedes(t *testing.T) {
	now := time.Now()
	fake := newFakePendingRedis()
	store := newRedisPendingStore(fake, 0, func() time.Time { return now })
	ctx := context.Background()

	first, err := store.Put(ctx, pendingFor("ada@example.com", now.Add(time.Minute)))
	require.NoError(t, err)
	second, err := store.Put(ctx, pendingFor("ada@example.com", now.Add(time.Minute)))
	require.NoError(t, err)

	_, err = store.GetByID(ctx, first)
	require.ErrorIs(t, err, ErrPendingNotFound)
	got, err := store.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, second, got.ID)
}

func TestRedisPendingStore_UpdateMissing(t *testing.T) {
	store := newRedisPendingStore(newFakePendingRedis(), 0, time.Now)
	err := store.UpdateCode(context.Background(), "reg_missing", "123456", time.Now(), time.Now())
	require.ErrorIs(t, err, ErrPendingNotFound)
}

func TestRedisPendingStore_Sweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fake := newFakePendingRedis()
	store := newRedisPendingStore(fake, 10*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	expired, _ := store.Put(ctx, pendingFor("old@example.com", now.Add(-time.Minute)))
	live, _ := store.Put(ctx, pendingFor("new@example.com", now.Add(time.Minute)))

	removed, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, err = store.GetByID(ctx, expired)
	require.ErrorIs(t, err, ErrPendingNotFound)
	_, err = store.GetByID(ctx, live)
	require.NoError(t, err)
	require.NotContains(t, fake.data, "auth:pending:email:old@example.com")
}

func TestRedisPendingStore_EvalError(t *testing.T) {
	fake := newFakePendingRedis()
	fake.evalErr = errors.New("redis down")
	store := newRedisPendingStore(fake, 0, time.Now)

	_, err := store.Put(context.Background(), pendingFor("ada@example.com", time.Now().Add(time.Minute)))
	require.ErrorContains(t, err, "redis down")
	require.NotErrorIs(t, err, ErrPendingNotFound)
}

func TestRedisPendingStore_LockResend(t *testing.T) {
	fake := newFakePendingRedis()
	store := newRedisPendingStore(fake, 0, time.Now)
	ctx := context.Background()

	release, err := store.LockResend(ctx, "reg_1", 6*time.Second)
	require.NoError(t, err)
	require.Contains(t, fake.data, "auth:pending:resend:reg_1")
	require.Equal(t, (6 * time.Second).Milliseconds(), fake.ttls["auth:pending:resend:reg_1"])

	_, err = store.LockResend(ctx, "reg_1", 6*time.Second)
	require.ErrorIs(t, err, errResendInFlight)

	release()
	require.NotContains(t, fake.data, "auth:pending:resend:reg_1")

	release, err = store.LockResend(ctx, "reg_1", 6*time.Second)
	require.NoError(t, err)
	release()
}

func TestRedisPendingStore_LockResendReleaseKeepsForeignLock(t *testing.T) {
	fake := newFakePendingRedis()
	store := newRedisPendingStore(fake, 0, time.Now)

	release, err := store.LockResend(context.Background(), "reg_1", time.Second)
	require.NoError(t, err)
	// El lock venció y otra instancia lo tomó.
	fake.data["auth:pending:resend:reg_1"] = "other-owner"
	release()
	require.Equal(t, "other-owner", fake.data["auth:pending:resend:reg_1"])
}

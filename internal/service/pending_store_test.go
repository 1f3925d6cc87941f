package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authflow/internal/domain"
)

func pendingFor(email string, expiresAt time.Time) domain.PendingRegistration {
	return domain.PendingRegistration{
		Email:         email,
		Name:          "Ada",
		PasswordHash:  "hash",
		Code:          "482913",
		CodeExpiresAt: expiresAt,
		CreatedAt:     expiresAt.Add(-10 * time.Minute),
	}
}

func TestMemoryPendingStore_PutAndGet(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	exp := time.Now().Add(10 * time.Minute)

	id, err := store.Put(ctx, pendingFor("ada@example.com", exp))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "reg_"))

	byID, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, byID.ID)
	require.Equal(t, "482913", byID.Code)

	byEmail, err := store.GetByEmail(ctx, "  ADA@example.com ")
	require.NoError(t, err)
	require.Equal(t, id, byEmail.ID)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrPendingNotFound)
	_, err = store.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrPendingNotFound)
}

func TestMemoryPendingStore_PutSupersedesSameEmail(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	exp := time.Now().Add(10 * time.Minute)

	first, err := store.Put(ctx, pendingFor("ada@example.com", exp))
	require.NoError(t, err)
	second, err := store.Put(ctx, pendingFor("ada@example.com", exp))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = store.GetByID(ctx, first)
	require.ErrorIs(t, err, ErrPendingNotFound)
	got, err := store.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, second, got.ID)
	require.Equal(t, 1, store.Len())
}

func TestMemoryPendingStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	id, _ := store.Put(ctx, pendingFor("ada@example.com", time.Now().Add(time.Minute)))

	got, _ := store.GetByID(ctx, id)
	got.Code = "000000"

	again, _ := store.GetByID(ctx, id)
	require.Equal(t, "482913", again.Code)
}

func TestMemoryPendingStore_UpdateCode(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	id, _ := store.Put(ctx, pendingFor("ada@example.com", time.Now().Add(time.Minute)))

	newExp := time.Now().Add(10 * time.Minute)
	sent := time.Now()
	require.NoError(t, store.UpdateCode(ctx, id, "019284", newExp, sent))

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "019284", got.Code)
	require.True(t, got.CodeExpiresAt.Equal(newExp))
	require.True(t, got.CodeSentAt.Equal(sent))

	require.ErrorIs(t, store.UpdateCode(ctx, "missing", "1", newExp, sent), ErrPendingNotFound)
}

func TestMemoryPendingStore_RemoveIsIdempotent(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	id, _ := store.Put(ctx, pendingFor("ada@example.com", time.Now().Add(time.Minute)))

	require.NoError(t, store.Remove(ctx, id))
	require.NoError(t, store.Remove(ctx, id))
	_, err := store.GetByEmail(ctx, "ada@example.com")
	require.ErrorIs(t, err, ErrPendingNotFound)
}

func TestMemoryPendingStore_SweepExpired(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	now := time.Now()

	expired, _ := store.Put(ctx, pendingFor("old@example.com", now.Add(-time.Second)))
	live, _ := store.Put(ctx, pendingFor("new@example.com", now.Add(time.Minute)))

	removed, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.GetByID(ctx, expired)
	require.ErrorIs(t, err, ErrPendingNotFound)
	_, err = store.GetByEmail(ctx, "old@example.com")
	require.ErrorIs(t, err, ErrPendingNotFound)
	_, err = store.GetByID(ctx, live)
	require.NoError(t, err)
}

func TestMemoryPendingStore_ConcurrentUpdates(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	id, _ := store.Put(ctx, pendingFor("ada@example.com", time.Now().Add(time.Minute)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exp := time.Unix(int64(1_700_000_000+i), 0)
			_ = store.UpdateCode(ctx, id, strings.Repeat("1", 6), exp, exp)
		}(i)
	}
	wg.Wait()

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	// code y vencimiento salen de la misma actualización
	require.True(t, got.CodeExpiresAt.Equal(got.CodeSentAt))
}

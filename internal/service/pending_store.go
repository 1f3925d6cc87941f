package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"authflow/internal/domain"
)

// PendingStore guarda registros sin confirmar, direccionables por id o por
// email normalizado. Put reemplaza cualquier registro previo del mismo email,
// de modo que existe a lo sumo uno por email.
type PendingStore interface {
	Put(ctx context.Context, entry domain.PendingRegistration) (string, error)
	GetByID(ctx context.Context, id string) (domain.PendingRegistration, error)
	GetByEmail(ctx context.Context, email string) (domain.PendingRegistration, error)
	UpdateCode(ctx context.Context, id, code string, expiresAt, sentAt time.Time) error
	Remove(ctx context.Context, id string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// resendLocker lo implementan los stores compartidos entre instancias, donde
// el lock por email del proceso no alcanza para serializar reenvíos.
type resendLocker interface {
	LockResend(ctx context.Context, id string, ttl time.Duration) (release func(), err error)
}

var errResendInFlight = errors.New("resend already in progress")

func newRegistrationID() string {
	return "reg_" + uuid.NewString()
}

// MemoryPendingStore es la implementación en proceso. Todas las mutaciones
// pasan por mu; GetByID y GetByEmail devuelven copias.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]domain.PendingRegistration
	byEmail map[string]string
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		entries: make(map[string]domain.PendingRegistration),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryPendingStore) Put(_ context.Context, entry domain.PendingRegistration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldID, ok := s.byEmail[entry.Email]; ok {
		delete(s.entries, oldID)
	}
	entry.ID = newRegistrationID()
	s.entries[entry.ID] = entry
	s.byEmail[entry.Email] = entry.ID
	return entry.ID, nil
}

func (s *MemoryPendingStore) GetByID(_ context.Context, id string) (domain.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return domain.PendingRegistration{}, ErrPendingNotFound
	}
	return entry, nil
}

func (s *MemoryPendingStore) GetByEmail(_ context.Context, email string) (domain.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.PendingRegistration{}, ErrPendingNotFound
	}
	return s.entries[id], nil
}

func (s *MemoryPendingStore) UpdateCode(_ context.Context, id, code string, expiresAt, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrPendingNotFound
	}
	entry.Code = code
	entry.CodeExpiresAt = expiresAt
	entry.CodeSentAt = sentAt
	s.entries[id] = entry
	return nil
}

func (s *MemoryPendingStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

func (s *MemoryPendingStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if entry.CodeExpiresAt.Before(now) {
			s.removeLocked(id)
			removed++
		}
	}
	return removed, nil
}

// Len devuelve la cantidad de registros pendientes.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryPendingStore) removeLocked(id string) {
	entry, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	if s.byEmail[entry.Email] == id {
		delete(s.byEmail, entry.Email)
	}
}

package domain

import "time"

// PendingRegistration es un alta aún no confirmada.
// PasswordHash ya viene hasheado con bcrypt; nunca se guarda la contraseña en claro.
type PendingRegistration struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"password_hash"`
	Code          string    `json:"code"`
	CodeExpiresAt time.Time `json:"code_expires_at"`
	CodeSentAt    time.Time `json:"code_sent_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Expired indica si el código ya no es válido en el instante now.
func (p PendingRegistration) Expired(now time.Time) bool {
	return !now.Before(p.CodeExpiresAt)
}

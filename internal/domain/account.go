package domain

import "time"

// Account es la identidad durable; solo existe tras confirmar el código.
type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountSummary es la vista pública de una cuenta, sin el hash.
type AccountSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

func (a Account) Summary() AccountSummary {
	return AccountSummary{
		ID:       a.ID,
		Name:     a.Name,
		Email:    a.Email,
		Verified: a.Verified,
	}
}

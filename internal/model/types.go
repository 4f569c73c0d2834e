package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable account record. Provisional registration state never
// lives here; it stays in the registration stores until completion.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
}

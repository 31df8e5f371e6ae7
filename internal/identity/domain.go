package identity

import "time"

// User represents an authenticated Parley account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group is a named collection of users used as an ACL principal.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

package models

// User holds the credential fields the login flow reads.
// Everything else about employees lives in the inventory application proper.
type User struct {
	ID           string
	Email        string
	Login        string
	PasswordHash string
	Role         string // "user" or "admin"
	Active       bool
}

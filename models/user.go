package models

import "time"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type User struct {
	ID           int64
	Username     string
	Name         string
	PasswordHash string
	Role         Role
	TelegramID   *int64
	CreatedAt    time.Time
}

// Identity is the authenticated caller: who they are and which role they act in.
type Identity struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role}
}

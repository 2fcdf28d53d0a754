package model

import (
	"fmt"
	"time"
)

// User represents an authentication user attached to a farm.
type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Name           string     `json:"nom,omitempty"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	FarmID         string     `json:"ferme_id,omitempty"`
	AllFarmsAccess bool       `json:"all_farms_access"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Roles.
const (
	RoleSuperAdmin = "superadmin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// RoleAtLeast checks if role meets or exceeds the minimum required role.
func RoleAtLeast(role, minimum string) bool {
	levels := map[string]int{
		RoleSuperAdmin: 3,
		RoleAdmin:      2,
		RoleUser:       1,
	}
	return levels[role] > 0 && levels[role] >= levels[minimum] && levels[minimum] > 0
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleSuperAdmin || role == RoleAdmin || role == RoleUser
}

// ValidatePassword checks password strength requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength),
		}
	}
	return nil
}

// DisplayName returns the user's name, falling back to the username.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Actor is the identity performing a ledger operation.
type Actor struct {
	UserID   string
	Name     string
	FarmID   string
	Role     string
	AllFarms bool
}

// Elevated reports whether the actor can act across all farms.
func (a Actor) Elevated() bool {
	return a.Role == RoleSuperAdmin || a.AllFarms
}

// ActorFromUser builds an Actor from a stored user.
func ActorFromUser(u *User) Actor {
	return Actor{
		UserID:   u.ID,
		Name:     u.DisplayName(),
		FarmID:   u.FarmID,
		Role:     u.Role,
		AllFarms: u.AllFarmsAccess,
	}
}

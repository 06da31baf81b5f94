package auth

import "time"

// Role scopes what the UI lets a session do. The escrow guards themselves
// only ever compare wallet addresses; the role is presentation-level.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

func isValidRole(r Role) bool {
	return r == RoleClient || r == RoleFreelancer
}

// User is an account keyed by wallet address.
type User struct {
	Address      string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest carries the sign-up payload.
type RegisterRequest struct {
	Address  string
	Password string
	Role     Role
}

// LoginRequest carries the sign-in payload.
type LoginRequest struct {
	Address  string
	Password string
}

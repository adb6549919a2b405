package domain

import "time"

// Role decides which operations a caller may perform.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RolePublisher Role = "publisher"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RolePublisher, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller behind a request.
type Identity struct {
	UserID string
	Role   Role
}

// User is a directory entry. TokenHash is a bcrypt hash of the secret half
// of the user's API token.
type User struct {
	ID          string
	DisplayName string
	Role        Role
	TokenHash   []byte
	CreatedAt   time.Time
}

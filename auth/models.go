package auth

import "time"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleManager    Role = "manager"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
	RoleSecurity   Role = "security"
	RoleHR         Role = "hr"
)

// User is the domain representation of an authenticated user. Field tags
// name the users table columns; presentation layers map it to their own
// shapes.
type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	PasswordHash string    `db:"password_hash"`
	Phone        *string   `db:"phone"`
	Role         Role      `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Actor returns the identity used to authorize operations on behalf of u.
func (u User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

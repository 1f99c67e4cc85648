package models

// RoleName identifies a role in the RBAC reference set.
type RoleName string

const (
	RoleUser   RoleName = "user"
	RoleAdmin  RoleName = "admin"
	RoleEditor RoleName = "editor"
)

// Role represents a row of the roles table.
type Role struct {
	ID   int64    `db:"id" json:"id"`
	Name RoleName `db:"name" json:"name"`
}

// User represents an application user joined with its role name.
type User struct {
	ID           int64    `db:"id" json:"id"`
	Username     string   `db:"username" json:"username"`
	Email        string   `db:"email" json:"email"`
	PasswordHash string   `db:"password_hash" json:"-"`
	RoleID       int64    `db:"role_id" json:"-"`
	RoleName     RoleName `db:"role_name" json:"role"`
}

// Identity returns the claim set used to mint tokens for the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Role: u.RoleName}
}

// Info returns the public view of the user.
func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.RoleName}
}

// UserInfo describes a user in responses. It never carries the password hash.
type UserInfo struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     RoleName `json:"role"`
}

// CurrentUser is the authenticated identity attached to a request. Role is the
// value read from the credential store on this request, not the token claim.
type CurrentUser struct {
	ID       int64
	Username string
	Email    string
	Role     RoleName
}

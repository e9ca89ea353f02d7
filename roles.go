package uas

// Role is the global role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Authorize grants access when the claims carry exactly the required role.
// There is no hierarchy: an admin does not satisfy a "user" requirement.
func Authorize(claims *Claims, required Role) bool {
	if claims == nil || required == "" {
		return false
	}
	return claims.Role == required
}

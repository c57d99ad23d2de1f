package domain

// Role is the coarse authorization level of a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// UserContext identifies the caller of an application service. It is built
// by the presentation layer and passed in; the core never constructs one.
type UserContext struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAuthenticated reports whether the context carries an identity and a known role.
func (u UserContext) IsAuthenticated() bool {
	return u.ID != "" && (u.Role == RoleAdmin || u.Role == RoleCustomer)
}

func (u UserContext) IsAdmin() bool {
	return u.IsAuthenticated() && u.Role == RoleAdmin
}

// CanAccess reports whether u may read a resource owned by ownerID.
func (u UserContext) CanAccess(ownerID string) bool {
	return u.IsAdmin() || (u.IsAuthenticated() && u.ID == ownerID)
}

package models

// Roles carried by an authenticated actor
const (
	RoleCustomer = "cliente"
	RoleSeller   = "vendedor"
	RoleAdmin    = "admin"
)

// Actor is the request-scoped identity passed explicitly into every
// service operation.
type Actor struct {
	UserID int64
	Roles  []string
	IP     string
}

// HasRole reports whether the actor carries role
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsOperator reports whether the actor may act on other users' orders and stock
func (a Actor) IsOperator() bool {
	return a.HasRole(RoleAdmin) || a.HasRole(RoleSeller)
}

// SystemActor is used by background workers
func SystemActor() Actor {
	return Actor{Roles: []string{RoleAdmin}, IP: "system"}
}

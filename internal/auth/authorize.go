package auth

// Principal is an authenticated user with its resolved role.
type Principal struct {
	User      *User
	Role      *Role
	SessionID string
}

// NewPrincipal constructs a principal from its user and role.
func NewPrincipal(user *User, role *Role) Principal {
	return Principal{User: user, Role: role}
}

// RoleType returns the principal's role type, or "" without a role.
func (p Principal) RoleType() RoleType {
	if p.Role == nil {
		return ""
	}
	return p.Role.Type
}

// Abilities returns the abilities granted by the principal's role.
func (p Principal) Abilities() []Ability {
	if p.Role == nil {
		return nil
	}
	return p.Role.Abilities
}

// Can reports whether the principal may perform action on subject.
func (p Principal) Can(subject Subject, action Action) bool {
	return Can(p.RoleType(), p.Abilities(), subject, action)
}

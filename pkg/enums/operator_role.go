package enums

import "slices"

// OperatorRole scopes what a service token may do on the admin API.
type OperatorRole string

const (
	// OperatorRoleAdmin may also purge queues.
	OperatorRoleAdmin    OperatorRole = "admin"
	OperatorRoleOperator OperatorRole = "operator"
)

var validOperatorRoles = []OperatorRole{
	OperatorRoleAdmin,
	OperatorRoleOperator,
}

// String implements fmt.Stringer.
func (r OperatorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known OperatorRole.
func (r OperatorRole) IsValid() bool {
	return slices.Contains(validOperatorRoles, r)
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	return parse(validOperatorRoles, value, "operator role")
}

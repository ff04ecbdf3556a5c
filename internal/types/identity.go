package types

// Role gates what an authenticated caller may do.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleExecutor Role = "executor"
	RoleService  Role = "service"
)

// Identity is the result of verifying a bearer token.
type Identity struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// CanCommand reports whether the identity may dispatch commands to executors.
func (id Identity) CanCommand() bool {
	return id.Role == RoleOperator || id.Role == RoleAdmin
}

// CanPublish reports whether the identity may inject domain events.
func (id Identity) CanPublish() bool {
	return id.Role == RoleService || id.Role == RoleAdmin
}

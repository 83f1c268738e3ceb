package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleClinician   = "clinician"
	RolePatient     = "patient"
	RoleCoordinator = "coordinator"
	RoleSuperAdmin  = "super_admin"
	RoleService     = "service" // hidden role: machine callers such as the appointments service
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }

// CanReadAnySession reports whether role may read sessions it does not take part in.
func CanReadAnySession(role string) bool {
	return role == RoleCoordinator || role == RoleSuperAdmin || role == RoleService
}

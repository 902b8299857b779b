package auth

// Role is an authorisation tier.
type Role string

// Roles, lowest to highest.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Permission is a named capability.
type Permission string

// Permission constants.
const (
	PermSessionsRead   Permission = "sessions:read"
	PermSessionsManage Permission = "sessions:manage"
	PermBridgeConnect  Permission = "bridge:connect"
	PermBridgePublish  Permission = "bridge:publish"
	PermProfilesRead   Permission = "profiles:read"
	PermProfilesManage Permission = "profiles:manage"
	PermDevicesRead    Permission = "devices:read"
	PermDevicesManage  Permission = "devices:manage"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermSessionsRead,
		PermBridgeConnect,
		PermProfilesRead,
		PermDevicesRead,
	},
	RoleOperator: {
		PermSessionsRead,
		PermSessionsManage,
		PermBridgeConnect,
		PermBridgePublish,
		PermProfilesRead,
		PermDevicesRead,
		PermDevicesManage,
		PermAuditRead,
	},
	RoleAdmin: {
		PermSessionsRead,
		PermSessionsManage,
		PermBridgeConnect,
		PermBridgePublish,
		PermProfilesRead,
		PermProfilesManage,
		PermDevicesRead,
		PermDevicesManage,
		PermAuditRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role,
// nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

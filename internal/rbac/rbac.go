package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleAnalyst   Role = "analyst"
	RoleEditor    Role = "editor"
	RolePowerUser Role = "power_user"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead         Action = "read"
	ActionEdit         Action = "edit"
	ActionPreview      Action = "preview"
	ActionActivate     Action = "activate"
	ActionManageAlerts Action = "manage_alerts"
	ActionAdmin        Action = "admin"
)

// Can reports whether a role may perform an action. Role checks happen
// locally, before any store call is attempted.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePowerUser:
		return action != ActionAdmin
	case RoleEditor:
		return action == ActionRead || action == ActionEdit || action == ActionPreview ||
			action == ActionActivate || action == ActionManageAlerts
	case RoleAnalyst:
		return action == ActionRead || action == ActionPreview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// CanActivate is the authorization predicate for publishing a settings
// version. Only editor, power_user and admin may swap the active version.
func CanActivate(role Role) bool {
	return Can(role, ActionActivate)
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnalyst, RoleEditor, RolePowerUser, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

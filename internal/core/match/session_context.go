package match

type Role string

const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RoleAdmin   Role = "admin"
)

// SessionContext identifies the caller of every rule-engine operation.
type SessionContext struct {
	Role   Role
	UserID string
}

func (sc SessionContext) CanLogEvents() bool {
	return sc.Role == RoleAnalyst || sc.Role == RoleAdmin
}

func (sc SessionContext) CanUndo() bool { return sc.CanLogEvents() }

func (sc SessionContext) CanTransition() bool { return sc.CanLogEvents() }

// CanOverride allows bypassing minimum-time transition gates.
func (sc SessionContext) CanOverride() bool { return sc.Role == RoleAdmin }

func (sc SessionContext) CanResolveConflicts() bool { return sc.Role == RoleAdmin }

func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAnalyst, RoleAdmin:
		return Role(s)
	default:
		return RoleViewer
	}
}

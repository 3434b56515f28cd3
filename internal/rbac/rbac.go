package rbac

type Role string
type Action string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionSettings Action = "settings"
	ActionBackup   Action = "backup"
	ActionSync     Action = "sync"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleParticipant:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func For(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleParticipant
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParticipant, RoleAdmin:
		return Role(role)
	default:
		return RoleParticipant
	}
}

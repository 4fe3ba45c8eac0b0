package rbac

type Role string
type Action string

const (
	// RolePending is a signed-up user who has not completed a profile yet.
	RolePending Role = ""
	RoleStudent Role = "student"
	RoleAdviser Role = "adviser"
)

const (
	ActionRead          Action = "read"
	ActionComment       Action = "comment"
	ActionSubmitDraft   Action = "submit_draft"
	ActionReviseDraft   Action = "revise_draft"
	ActionSearchAdviser Action = "search_advisers"
	ActionExport        Action = "export"
)

// Can reports whether role may perform action. Participation in a specific
// conversation is checked separately by the caller.
func Can(role Role, action Action) bool {
	switch role {
	case RoleStudent:
		return true
	case RoleAdviser:
		return action == ActionRead || action == ActionComment || action == ActionExport || action == ActionReviseDraft
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleAdviser:
		return Role(role)
	default:
		return RolePending
	}
}

// Valid reports whether role is one a profile may be completed with.
func Valid(role string) bool {
	return Normalize(role) != RolePending
}

package auth

// DecisionReason records why an ability evaluation allowed or denied access.
type DecisionReason string

const (
	DecisionSuperAdmin DecisionReason = "superAdmin"
	DecisionGranted    DecisionReason = "granted"
	DecisionDenied     DecisionReason = "denied"
)

// Decision is the outcome of an ability evaluation.
type Decision struct {
	Allowed bool
	Reason  DecisionReason
}

// Evaluate decides whether (subject, action) is permitted.
//
// The superAdmin bypass is checked before any ability is inspected and is
// reported with its own reason so callers can audit it. Otherwise the result
// is a set-membership test: some ability must match the subject exactly or via
// SubjectAll, and the action exactly or via ActionManage.
func Evaluate(roleType RoleType, abilities []Ability, subject Subject, action Action) Decision {
	if roleType == RoleTypeSuperAdmin {
		return Decision{Allowed: true, Reason: DecisionSuperAdmin}
	}
	for _, a := range abilities {
		if a.Subject != subject && a.Subject != SubjectAll {
			continue
		}
		for _, act := range a.Actions {
			if act == action || act == ActionManage {
				return Decision{Allowed: true, Reason: DecisionGranted}
			}
		}
	}
	return Decision{Allowed: false, Reason: DecisionDenied}
}

// Can reports whether (subject, action) is permitted.
func Can(roleType RoleType, abilities []Ability, subject Subject, action Action) bool {
	return Evaluate(roleType, abilities, subject, action).Allowed
}

// CanAll reports whether every action of every required ability is permitted.
// An empty requirement is satisfied.
func CanAll(roleType RoleType, abilities []Ability, required []Ability) Decision {
	if roleType == RoleTypeSuperAdmin {
		return Decision{Allowed: true, Reason: DecisionSuperAdmin}
	}
	for _, req := range required {
		for _, act := range req.Actions {
			if !Can(roleType, abilities, req.Subject, act) {
				return Decision{Allowed: false, Reason: DecisionDenied}
			}
		}
	}
	return Decision{Allowed: true, Reason: DecisionGranted}
}

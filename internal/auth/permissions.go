package auth

import "fmt"

// Subject is the resource type an ability applies to.
type Subject string

const (
	SubjectAll     Subject = "all"
	SubjectAPIKey  Subject = "apiKey"
	SubjectAuth    Subject = "auth"
	SubjectCountry Subject = "country"
	SubjectRole    Subject = "role"
	SubjectSession Subject = "session"
	SubjectSetting Subject = "setting"
	SubjectUser    Subject = "user"
)

var knownSubjects = map[Subject]struct{}{
	SubjectAll:     {},
	SubjectAPIKey:  {},
	SubjectAuth:    {},
	SubjectCountry: {},
	SubjectRole:    {},
	SubjectSession: {},
	SubjectSetting: {},
	SubjectUser:    {},
}

// Action is an operation on a subject. ActionManage stands for every action.
type Action string

const (
	ActionManage Action = "manage"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionImport Action = "import"
)

var knownActions = map[Action]struct{}{
	ActionManage: {},
	ActionRead:   {},
	ActionCreate: {},
	ActionUpdate: {},
	ActionDelete: {},
	ActionExport: {},
	ActionImport: {},
}

// Ability grants a set of actions on one subject.
type Ability struct {
	Subject Subject  `json:"subject"`
	Actions []Action `json:"actions"`
}

// ValidateAbilities rejects subjects or actions outside the closed enumerations.
func ValidateAbilities(abilities []Ability) error {
	for i, a := range abilities {
		if _, ok := knownSubjects[a.Subject]; !ok {
			return invalidInput("ability %d: unknown subject %q", i, a.Subject)
		}
		if len(a.Actions) == 0 {
			return invalidInput("ability %d: actions are required", i)
		}
		for _, act := range a.Actions {
			if _, ok := knownActions[act]; !ok {
				return invalidInput("ability %d: unknown action %q", i, act)
			}
		}
	}
	return nil
}

// String renders the ability as subject:action,action for logs.
func (a Ability) String() string {
	return fmt.Sprintf("%s:%v", a.Subject, a.Actions)
}

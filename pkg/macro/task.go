package macro

import (
	"strings"
	"time"
)

// Action names what a worker should do with a task.
type Action string

const (
	ActionInit     Action = "init"
	ActionTest     Action = "test"
	ActionEndTest  Action = "endtest"
	ActionTeardown Action = "teardown"
)

// ActionKind is the closed set a worker dispatches on. Any action name
// outside the four lifecycle actions maps to KindCustom.
type ActionKind int

const (
	KindCustom ActionKind = iota
	KindInit
	KindTest
	KindEndTest
	KindTeardown
)

// Kind classifies the action.
func (a Action) Kind() ActionKind {
	switch Action(strings.ToLower(strings.TrimSpace(string(a)))) {
	case ActionInit:
		return KindInit
	case ActionTest:
		return KindTest
	case ActionEndTest:
		return KindEndTest
	case ActionTeardown:
		return KindTeardown
	}
	return KindCustom
}

func (k ActionKind) String() string {
	switch k {
	case KindInit:
		return string(ActionInit)
	case KindTest:
		return string(ActionTest)
	case KindEndTest:
		return string(ActionEndTest)
	case KindTeardown:
		return string(ActionTeardown)
	}
	return "custom"
}

// Overrides adjust recording and logging for a single task. Nil flags and
// empty paths keep the configured defaults.
type Overrides struct {
	Record     *bool  `json:"record,omitempty"`
	RecordPath string `json:"recordPath,omitempty"`
	Log        *bool  `json:"log,omitempty"`
	LogPath    string `json:"logPath,omitempty"`
}

// Task is the message the scheduler sends to a worker.
type Task struct {
	Action       Action    `json:"action"`
	SessionToken string    `json:"sessionToken"`
	MacroID      string    `json:"macroId,omitempty"`
	Entries      []Entry   `json:"entries,omitempty"`
	Overrides    Overrides `json:"overrides,omitempty"`
}

// Result is the message a worker sends back for every state transition.
// Fault marks an unhandled error after which the worker exits.
type Result struct {
	Status            Status    `json:"status"`
	Action            Action    `json:"action"`
	WorkerID          int       `json:"workerId"`
	MacroID           string    `json:"macroId,omitempty"`
	SessionToken      string    `json:"sessionToken,omitempty"`
	Message           string    `json:"message,omitempty"`
	LogArtifact       string    `json:"logArtifact,omitempty"`
	RecordingArtifact string    `json:"recordingArtifact,omitempty"`
	Fault             bool      `json:"fault,omitempty"`
	At                time.Time `json:"at"`
}

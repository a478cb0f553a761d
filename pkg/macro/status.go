package macro

// Status is shared by worker records, macro records and result messages.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Idle reports whether a worker with this status can accept a task.
func (s Status) Idle() bool {
	return s == StatusPending || s == StatusCompleted
}

// Terminal reports whether a macro with this status is finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether a macro record may move from one status to
// another. Macro statuses only move forward: pending, running, then one
// terminal status.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() > from.rank()
}

package job

import (
	"time"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// State is the lifecycle position of a Job
type State int

const (
	StateCreated State = iota
	StateSubmitting
	StatePolling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen without a new submission
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Snapshot is a point-in-time copy of a Job's progress.
// Callers receive it by value; later transitions never change it.
type Snapshot struct {
	State     State
	JobID     string
	Status    string // last status reported by the server
	ResultURI string // where the completed result can be found
	Result    *ondemand.ContainerResult
	Err       error
	Checks    int // status checks performed for the current submission
	UpdatedAt time.Time
}

package recognition

import (
	"fmt"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// transitions lists the allowed run status changes. failed -> running is the
// resume path; evaluated -> evaluated lets a reviewer replace a verdict.
var transitions = map[database.RunStatus][]database.RunStatus{
	database.RunPending:   {database.RunRunning},
	database.RunRunning:   {database.RunCompleted, database.RunFailed},
	database.RunFailed:    {database.RunRunning},
	database.RunCompleted: {database.RunEvaluated},
	database.RunEvaluated: {database.RunEvaluated},
}

// TransitionError reports a run status change the state machine forbids.
type TransitionError struct {
	RunID string
	From  database.RunStatus
	To    database.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run %s: cannot move from %s to %s", e.RunID, e.From, e.To)
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to database.RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves run to status, or returns a *TransitionError.
func Transition(run *database.RunResult, to database.RunStatus) error {
	if !CanTransition(run.Status, to) {
		return &TransitionError{RunID: run.ID, From: run.Status, To: to}
	}
	run.Status = to
	return nil
}

package promotion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// ErrNotUniversal is returned when activating a layer that is not universal.
var ErrNotUniversal = errors.New("not a universal layer")

// InsufficientSamplesError is returned when a folder has too few photos to
// enter testing.
type InsufficientSamplesError struct {
	FolderID string
	Have     int
	Need     int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("folder %s has %d photos, at least %d required for testing", e.FolderID, e.Have, e.Need)
}

// NotEligibleError is returned when promotion is attempted while one or more
// eligibility conditions are unmet.
type NotEligibleError struct {
	FolderID    string
	Eligibility Eligibility
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("folder %s cannot be promoted: %s", e.FolderID, strings.Join(e.Eligibility.Unmet(), ", "))
}

// TransitionError reports a folder status change the lifecycle forbids.
type TransitionError struct {
	FolderID string
	From     database.FolderStatus
	To       database.FolderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("folder %s: cannot move from %s to %s", e.FolderID, e.From, e.To)
}

package database

// PhotoStatus is the lifecycle status of a photo.
type PhotoStatus string

const (
	PhotoPending   PhotoStatus = "pending"
	PhotoTested    PhotoStatus = "tested"
	PhotoReference PhotoStatus = "reference"
	PhotoValidated PhotoStatus = "validated"
)

// FolderStatus is the promotion lifecycle status of a folder.
type FolderStatus string

const (
	FolderDraft     FolderStatus = "draft"
	FolderTesting   FolderStatus = "testing"
	FolderReady     FolderStatus = "ready"
	FolderValidated FolderStatus = "validated"
	FolderPromoted  FolderStatus = "promoted"
	FolderIgnored   FolderStatus = "ignored"
	FolderCancelled FolderStatus = "cancelled"
)

// BatchStatus is the status of a batch.
type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

// IsTerminal reports whether no further runs will be submitted.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// RunStatus is the status of a single recognition run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunEvaluated RunStatus = "evaluated"
)

// Default folder threshold for entering testing.
const DefaultMinPhotosRequired = 5

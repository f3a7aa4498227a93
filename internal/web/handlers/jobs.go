package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/constants"
	"github.com/kozaktomas/meter-lab/internal/database"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Abort cancels the job context. The batch stays running in the store and
// can be resumed later.
func (b *EventBroadcaster) Abort() {
	if b.cancel != nil {
		b.cancel()
	}
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// BatchJob is one in-process execution of a batch.
type BatchJob struct {
	EventBroadcaster

	batchID     string
	status      JobStatus
	done        int
	total       int
	err         string
	startedAt   time.Time
	completedAt *time.Time
	batch       *database.Batch
}

// JobView is a point-in-time copy of a BatchJob.
type JobView struct {
	BatchID     string          `json:"batch_id"`
	Status      JobStatus       `json:"status"`
	Done        int             `json:"done"`
	Total       int             `json:"total"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Batch       *database.Batch `json:"batch,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *BatchJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// View returns a copy of the job state.
func (j *BatchJob) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		BatchID:     j.batchID,
		Status:      j.status,
		Done:        j.done,
		Total:       j.total,
		Error:       j.err,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Batch:       j.batch,
	}
	if j.total > 0 {
		v.Progress = j.done * 100 / j.total
	}
	return v
}

func (j *BatchJob) setRunning() {
	j.mu.Lock()
	j.status = JobStatusRunning
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "started", Message: "Batch started"})
}

// progress records an orchestrator progress report and forwards it.
func (j *BatchJob) progress(p batch.Progress) {
	j.mu.Lock()
	j.done = p.Done
	j.total = p.Total
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: p})
}

// finish records the final batch. A batch that stopped without completing
// or being cancelled leaves the job failed so a resume can pick it up.
func (j *BatchJob) finish(b *database.Batch, err error) {
	now := time.Now()
	j.mu.Lock()
	j.completedAt = &now
	if b != nil {
		j.batch = b
	}
	switch {
	case err != nil:
		j.status = JobStatusFailed
		j.err = err.Error()
	case b.Status == database.BatchCompleted:
		j.status = JobStatusCompleted
	case b.Status == database.BatchCancelled:
		j.status = JobStatusCancelled
	default:
		j.status = JobStatusFailed
		j.err = "batch stopped with runs left; resume to retry them"
	}
	status, message := j.status, j.err
	j.mu.Unlock()

	switch status {
	case JobStatusCompleted:
		j.SendEvent(JobEvent{Type: "completed", Data: b})
	case JobStatusCancelled:
		j.SendEvent(JobEvent{Type: "cancelled", Message: "Batch cancelled", Data: b})
	default:
		j.SendEvent(JobEvent{Type: "job_error", Message: message, Data: b})
	}
}

// JobManager tracks batch jobs by batch ID.
type JobManager struct {
	jobs map[string]*BatchJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*BatchJob),
	}
}

// StartJob registers a pending job for the batch. It returns false when a
// job for the batch is still active.
func (m *JobManager) StartJob(batchID string, total int, cancel context.CancelFunc) (*BatchJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[batchID]; ok && !isJobTerminal(existing.GetStatus()) {
		return existing, false
	}
	job := &BatchJob{
		batchID:   batchID,
		status:    JobStatusPending,
		total:     total,
		startedAt: time.Now(),
	}
	job.cancel = cancel
	m.jobs[batchID] = job
	return job, true
}

// GetJob retrieves a job by batch ID.
func (m *JobManager) GetJob(batchID string) *BatchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[batchID]
}

// AbortAll cancels every active job.
func (m *JobManager) AbortAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if !isJobTerminal(job.GetStatus()) {
			job.Abort()
		}
	}
}

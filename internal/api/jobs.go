package api

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job states.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job tracks one asynchronous extraction or classification run.
type Job struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Target     string      `json:"target"`
	State      string      `json:"state"`
	Progress   float64     `json:"progress"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// ErrTargetBusy means a job of the same kind is already running
// against the target. One in-flight run per platform is a hard
// constraint, not a capacity limit.
type ErrTargetBusy struct {
	Target string
}

func (e *ErrTargetBusy) Error() string {
	return "a job is already running for " + e.Target
}

// JobRegistry tracks jobs in memory and enforces one running job per
// target.
type JobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	busy map[string]string // target -> running job id
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[string]*Job),
		busy: make(map[string]string),
	}
}

// Start registers a new running job for the target. It fails with
// ErrTargetBusy while another job holds the target.
func (r *JobRegistry) Start(kind, target string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.busy[target]; ok {
		if job := r.jobs[id]; job != nil && (job.State == JobPending || job.State == JobRunning) {
			return nil, &ErrTargetBusy{Target: target}
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		State:     JobRunning,
		StartedAt: time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	r.busy[target] = job.ID
	return job, nil
}

// Finish records the outcome of a job and frees its target.
func (r *JobRegistry) Finish(id string, result interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}

	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Result = result
	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
	} else {
		job.State = JobDone
		job.Progress = 1
	}

	if r.busy[job.Target] == id {
		delete(r.busy, job.Target)
	}
}

// Get returns a snapshot of a job, with progress estimated for
// running jobs.
func (r *JobRegistry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, false
	}

	snapshot := *job
	if snapshot.State == JobRunning {
		snapshot.Progress = runningProgress(time.Since(snapshot.StartedAt))
	}
	return &snapshot, true
}

// runningProgress estimates progress for a run whose total is unknown.
// It climbs logarithmically toward 0.95 over roughly an hour, which is
// honest about long paced runs without ever claiming completion.
func runningProgress(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	p := 0.95 * math.Log1p(elapsed.Seconds()) / math.Log1p(3600)
	return math.Min(p, 0.95)
}

package entity

import "time"

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateStarted    JobState = "started"
	JobStateInProgress JobState = "in_progress"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateRevoked    JobState = "revoked"
)

// jobTransitions is the closed transition table. queued -> failed exists only
// for the precondition path (missing input detected before the worker claims
// ownership); the success path always passes through started.
var jobTransitions = map[JobState][]JobState{
	JobStateQueued:     {JobStateStarted, JobStateFailed, JobStateRevoked},
	JobStateStarted:    {JobStateInProgress, JobStateFailed, JobStateRevoked},
	JobStateInProgress: {JobStateInProgress, JobStateSucceeded, JobStateFailed, JobStateRevoked},
	JobStateSucceeded:  {},
	JobStateFailed:     {},
	JobStateRevoked:    {},
}

func (s JobState) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateRevoked:
		return true
	}
	return false
}

func (s JobState) CanTransition(to JobState) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TrainingResult is the payload carried by a succeeded job.
type TrainingResult struct {
	OutputDir               string  `json:"output_dir"`
	AdapterDir              string  `json:"adapter_dir"`
	TrainingDurationSeconds float64 `json:"training_duration_seconds"`
	DatasetSize             int     `json:"dataset_size"`
	MaxSteps                int     `json:"max_steps"`
	CompletedAt             string  `json:"completed_at"`
	Model                   string  `json:"model"`
}

// JobError is the payload carried by a failed job.
type JobError struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// JobRecord is the snapshot document kept in the result backend, one per job
// id, last write wins. Exactly one of Result/Error is set, and only in the
// matching terminal state.
type JobRecord struct {
	JobID           string          `json:"job_id"`
	State           JobState        `json:"state"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStep     int             `json:"current_step"`
	TotalSteps      int             `json:"total_steps"`
	StatusMessage   string          `json:"status_message"`
	Result          *TrainingResult `json:"result,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

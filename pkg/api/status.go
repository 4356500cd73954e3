package api

import "time"

type JobState string

const (
	JobStateInQueue JobState = "IN_QUEUE"
	JobStateRunning JobState = "RUNNING"
	JobStateSuccess JobState = "SUCCESS"
	JobStateFailure JobState = "FAILURE"
	JobStateExpired JobState = "EXPIRED"
	JobStateKilled  JobState = "KILLED"
)

var JobStates = []JobState{
	JobStateInQueue,
	JobStateRunning,
	JobStateSuccess,
	JobStateFailure,
	JobStateExpired,
	JobStateKilled,
}

func (s JobState) Terminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailure, JobStateExpired, JobStateKilled:
		return true
	}
	return false
}

// JobStatusUpdate is pushed to the status sink on every lifecycle transition.
type JobStatusUpdate struct {
	JobId     string    `json:"jobId"`
	State     JobState  `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageReport charges Owner for Elapsed wall-clock time on Replicas instances of Product.
type UsageReport struct {
	JobId         string    `json:"jobId"`
	Owner         Owner     `json:"owner"`
	Product       string    `json:"product"`
	Replicas      int32     `json:"replicas"`
	ElapsedMillis int64     `json:"elapsedMillis"`
	Timestamp     time.Time `json:"timestamp"`
}

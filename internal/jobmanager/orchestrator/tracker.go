package orchestrator

import (
	"strconv"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"
)

type trackedJob struct {
	job       *vol.Job
	started   bool
	completed bool
}

// tracker remembers the last observed state of every job, and which lifecycle transitions have been dispatched.
type tracker struct {
	mutex sync.Mutex
	jobs  map[string]*trackedJob
}

func newTracker() *tracker {
	return &tracker{jobs: map[string]*trackedJob{}}
}

// observe records job and returns a copy of its tracking state. A job older than the one already tracked, as
// told by the resource versions, is not recorded and the tracked job is returned instead.
func (t *tracker) observe(jobId string, job *vol.Job) trackedJob {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry, ok := t.jobs[jobId]
	if !ok {
		entry = &trackedJob{}
		t.jobs[jobId] = entry
	}
	if entry.job == nil || !olderThan(job, entry.job) {
		entry.job = job
	}
	return *entry
}

// olderThan compares resource versions. They are opaque to clients, but the API server backed by etcd hands out
// increasing integers; anything else is never considered older.
func olderThan(job, other *vol.Job) bool {
	version, err := strconv.ParseUint(job.ResourceVersion, 10, 64)
	if err != nil {
		return false
	}
	otherVersion, err := strconv.ParseUint(other.ResourceVersion, 10, 64)
	if err != nil {
		return false
	}
	return version < otherVersion
}

// reset forgets every job. The next list of the cluster rebuilds the state.
func (t *tracker) reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.jobs = map[string]*trackedJob{}
}

func (t *tracker) markStarted(jobId string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if entry, ok := t.jobs[jobId]; ok {
		entry.started = true
	}
}

func (t *tracker) markCompleted(jobId string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if entry, ok := t.jobs[jobId]; ok {
		entry.completed = true
	}
}

func (t *tracker) forget(jobId string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.jobs, jobId)
}

// running returns the started, not yet completed jobs ordered by job id.
func (t *tracker) running(jobIds ...string) []*vol.Job {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if len(jobIds) == 0 {
		jobIds = maps.Keys(t.jobs)
		slices.Sort(jobIds)
	}
	var result []*vol.Job
	for _, id := range jobIds {
		if entry, ok := t.jobs[id]; ok && entry.started && !entry.completed {
			result = append(result, entry.job)
		}
	}
	return result
}

// missing returns the tracked jobs whose ids are not in present.
func (t *tracker) missing(present map[string]bool) map[string]*vol.Job {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	result := map[string]*vol.Job{}
	for id, entry := range t.jobs {
		if !present[id] {
			result[id] = entry.job
		}
	}
	return result
}

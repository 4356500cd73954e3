package plugin

import (
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Host is the part of the orchestrator which plugins may call back into.
type Host interface {
	// RequestMonitoring asks the leader for a monitoring pass over a single job.
	RequestMonitoring(jobId string)
	// Terminate records state as the final state of the job, pushes it to the status sink and deletes the job.
	Terminate(ctx *ucontext.Context, job *vol.Job, state api.JobState, message string) error
}

// HookContext is passed to every hook.
type HookContext struct {
	*ucontext.Context
	Deps *deps.Dependencies
	Host Host
	// Id of the job the hook runs for. Empty for monitoring hooks, which receive a batch.
	JobId string
	// The request the job was created from. Always set for create hooks. Other hooks may only see the identifying
	// fields (id, owner, replicas) or nothing at all, depending on what the job cache can recover.
	Job *api.JobRequest
	// During creation the job being built, later the last observed state of the job. May be nil in cleanup hooks.
	Resource *vol.Job
}

// ErrNoTask is returned by plugins which run before the base plugin has created the task of the job.
var ErrNoTask = errors.New("job has no task; the base plugin must run before this plugin")

// Task returns the single task of the job.
func (c *HookContext) Task() (*vol.TaskSpec, error) {
	if c.Resource == nil || len(c.Resource.Spec.Tasks) == 0 {
		return nil, errors.WithStack(ErrNoTask)
	}
	return &c.Resource.Spec.Tasks[0], nil
}

// Containers returns the containers of the task. At least one exists once the base plugin has run.
func (c *HookContext) Containers() ([]*v1.Container, error) {
	t, err := c.Task()
	if err != nil {
		return nil, err
	}
	containers := t.Template.Spec.Containers
	if len(containers) == 0 {
		return nil, errors.WithStack(ErrNoTask)
	}
	result := make([]*v1.Container, 0, len(containers))
	for i := range containers {
		result = append(result, &containers[i])
	}
	return result, nil
}

// PodSpec returns the pod template of the task.
func (c *HookContext) PodSpec() (*v1.PodSpec, error) {
	t, err := c.Task()
	if err != nil {
		return nil, err
	}
	return &t.Template.Spec, nil
}

// RequireJob returns the job request, failing if the hook was invoked without one.
func (c *HookContext) RequireJob() (*api.JobRequest, error) {
	if c.Job == nil {
		return nil, errors.Errorf("no job request available for job %s", c.JobId)
	}
	return c.Job, nil
}

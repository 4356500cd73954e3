package orchestrator

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
	commonslices "github.com/SDU-eScience/UCloud-sub021/internal/common/slices"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

func (o *Orchestrator) handleJobEvent(ctx *ucontext.Context, event watch.Event) {
	job, ok := event.Object.(*vol.Job)
	if !ok {
		return
	}
	jobId, ok := domain.JobId(job.Labels)
	if !ok {
		return
	}
	ctx = ucontext.WithJob(ctx, jobId, job.Name, job.Namespace)

	var err error
	switch event.Type {
	case watch.Deleted:
		err = o.onDeleted(ctx, jobId, job)
	case watch.Added, watch.Modified:
		err = o.onObserved(ctx, jobId, job)
	}
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Errorf("Handling %s event of job failed", event.Type)
	}
}

func (o *Orchestrator) onObserved(ctx *ucontext.Context, jobId string, job *vol.Job) error {
	state := o.tracker.observe(jobId, job)
	job = state.job
	phase := job.Status.State.Phase

	if !state.started && !state.completed && domain.IsRunning(job) && !domain.IsTerminal(phase) {
		hctx := o.hookContext(ctx, jobId, o.lookupJob(ctx, jobId), job)
		var result *multierror.Error
		for _, h := range hooksOf[plugin.JobStartHook](o.registry) {
			if err := h.hook.OnJobStart(hctx); err != nil {
				result = multierror.Append(result, errors.WithMessagef(err, "start hook of plugin %s", h.name))
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
		o.tracker.markStarted(jobId)
		ctx.Log.Info("Job started")
		o.pushStatus(ctx, jobId, api.JobStateRunning, "")
		return nil
	}

	if !state.completed && domain.IsTerminal(phase) {
		o.tracker.markCompleted(jobId)
		err := o.complete(ctx, jobId, job)
		if _, terminating := job.Annotations[domain.AnnotationFinalState]; terminating {
			return err
		}
		final := api.JobStateSuccess
		if phase != vol.Completed {
			final = api.JobStateFailure
		}
		if terr := o.Terminate(ctx, job, final, "Job finished as "+string(phase)); terr != nil {
			return multierror.Append(err, terr).ErrorOrNil()
		}
		return err
	}
	return nil
}

func (o *Orchestrator) complete(ctx *ucontext.Context, jobId string, job *vol.Job) error {
	hctx := o.hookContext(ctx, jobId, o.lookupJob(ctx, jobId), job)
	var result *multierror.Error
	for _, h := range hooksOf[plugin.CompleteHook](o.registry) {
		if err := h.hook.OnJobComplete(hctx); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "complete hook of plugin %s", h.name))
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) onDeleted(ctx *ucontext.Context, jobId string, job *vol.Job) error {
	o.tracker.forget(jobId)
	err := o.runCleanup(o.hookContext(ctx, jobId, o.lookupJob(ctx, jobId), job))
	o.deps.Jobs.Forget(jobId)
	if _, ok := job.Annotations[domain.AnnotationFinalState]; !ok {
		o.pushStatus(ctx, jobId, api.JobStateFailure, "Job was deleted unexpectedly")
	}
	ctx.Log.Info("Job cleaned up")
	return err
}

func (o *Orchestrator) handlePodEvent(ctx *ucontext.Context, event watch.Event) {
	pod, ok := event.Object.(*v1.Pod)
	if !ok {
		return
	}
	jobId, ok := domain.JobId(pod.Labels)
	if !ok {
		return
	}
	ctx = ucontext.WithJob(ctx, jobId, pod.Labels[domain.VolcanoJobNameLabel], pod.Namespace)
	hctx := o.hookContext(ctx, jobId, nil, nil)
	for _, h := range hooksOf[plugin.PodEventHook](o.registry) {
		if err := h.hook.OnPodEvent(hctx, event.Type, pod); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("Plugin %s failed to handle %s event of pod %s", h.name, event.Type, pod.Name)
		}
	}
}

// monitor dispatches jobs to the monitoring hooks in batches.
func (o *Orchestrator) monitor(ctx *ucontext.Context, jobs []*vol.Job) {
	if len(jobs) == 0 {
		return
	}
	batchSize := o.config.Monitoring.BatchSize
	if batchSize <= 0 {
		batchSize = len(jobs)
	}
	hctx := o.hookContext(ctx, "", nil, nil)
	hooks := hooksOf[plugin.MonitoringHook](o.registry)
	for _, batch := range commonslices.PartitionToMaxLen(jobs, batchSize) {
		for _, h := range hooks {
			if err := h.hook.OnJobMonitoring(hctx, batch); err != nil {
				logging.WithStacktrace(ctx.Log, err).Warnf("Plugin %s failed to monitor %d jobs", h.name, len(batch))
			}
		}
	}
}

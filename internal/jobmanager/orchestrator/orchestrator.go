// Package orchestrator builds volcano jobs through the plugin pipeline, and follows them through their lifecycle
// while this instance holds the leader lease.
package orchestrator

import (
	"math/rand"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/util"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/lock"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/metrics"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/names"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

const monitorRequestBuffer = 1024

type Orchestrator struct {
	config   configuration.Configuration
	deps     *deps.Dependencies
	names    *names.Allocator
	registry *Registry
	lock     lock.Lock
	metrics  *metrics.Metrics
	rand     *rand.Rand

	tracker         *tracker
	monitorRequests chan string
}

func New(
	config configuration.Configuration,
	deps *deps.Dependencies,
	names *names.Allocator,
	registry *Registry,
	lock lock.Lock,
) *Orchestrator {
	return &Orchestrator{
		config:          config,
		deps:            deps,
		names:           names,
		registry:        registry,
		lock:            lock,
		metrics:         metrics.Get(),
		rand:            util.NewThreadsafeRand(deps.Clock.Now().UnixNano()),
		tracker:         newTracker(),
		monitorRequests: make(chan string, monitorRequestBuffer),
	}
}

// Create builds the volcano job for a request and submits it. Create hooks run in registration order and the first
// failing hook aborts the submission; its error is returned as is, after the cleanup hooks have released whatever
// earlier hooks bound.
func (o *Orchestrator) Create(ctx *ucontext.Context, job *api.JobRequest) (*vol.Job, error) {
	o.deps.Jobs.Put(job)

	namespace, err := o.names.IdToNamespace(ctx, job.Id)
	if err != nil {
		return nil, err
	}
	name := o.names.IdToName(job.Id)
	ctx = ucontext.WithJob(ctx, job.Id, name, namespace)

	jobs := o.deps.Volcano.BatchV1alpha1().Jobs(namespace)
	if _, err := jobs.Get(ctx, name, metav1.GetOptions{}); err == nil {
		return nil, errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "job", Value: job.Id})
	} else if !k8serrors.IsNotFound(err) {
		return nil, errors.Wrapf(err, "looking up %s/%s", namespace, name)
	}

	resource := &vol.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      map[string]string{},
			Annotations: map[string]string{},
		},
	}
	hctx := o.hookContext(ctx, job.Id, job, resource)
	for _, h := range hooksOf[plugin.CreateHook](o.registry) {
		if err := h.hook.OnCreate(hctx); err != nil {
			o.metrics.RecordJobCreationFailure(h.name)
			logging.WithStacktrace(ctx.Log, err).Warnf("Plugin %s rejected the job", h.name)
			o.cleanupAfterFailedCreate(hctx)
			return nil, err
		}
	}

	created, err := jobs.Create(ctx, resource, metav1.CreateOptions{})
	if err != nil {
		if k8serrors.IsAlreadyExists(err) {
			return nil, errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "job", Value: job.Id})
		}
		o.cleanupAfterFailedCreate(hctx)
		return nil, errors.WithStack(&uclouderrors.ErrCreateResource{Type: "job", Name: name, Message: err.Error()})
	}

	o.metrics.RecordJobCreated()
	ctx.Log.Info("Job submitted")
	o.pushStatus(ctx, job.Id, api.JobStateInQueue, "")
	return created, nil
}

func (o *Orchestrator) cleanupAfterFailedCreate(hctx *plugin.HookContext) {
	if err := o.runCleanup(hctx); err != nil {
		logging.WithStacktrace(hctx.Log, err).Error("Cleanup after failed submission did not complete")
	}
}

// RequestMonitoring queues a monitoring pass over a single job. Requests are served by the leader loop only, and are
// dropped if the queue is full.
func (o *Orchestrator) RequestMonitoring(jobId string) {
	select {
	case o.monitorRequests <- jobId:
	default:
		log := ucontext.Background().Log
		log.WithField(logging.JobIdField, jobId).Warn("Monitoring queue is full, dropping request")
	}
}

// Terminate records state as the final state of the job, pushes it and deletes the job.
func (o *Orchestrator) Terminate(ctx *ucontext.Context, job *vol.Job, state api.JobState, message string) error {
	return o.terminate(ctx, job, state, message, metav1.DeletePropagationBackground)
}

func (o *Orchestrator) terminate(
	ctx *ucontext.Context,
	job *vol.Job,
	state api.JobState,
	message string,
	propagation metav1.DeletionPropagation,
) error {
	jobId, _ := domain.JobId(job.Labels)
	if _, done := job.Annotations[domain.AnnotationFinalState]; !done {
		err := o.deps.PatchJobAnnotations(ctx, job, map[string]string{domain.AnnotationFinalState: string(state)})
		if err != nil && !k8serrors.IsNotFound(errors.Cause(err)) {
			return err
		}
	}
	o.pushStatus(ctx, jobId, state, message)

	err := o.deps.Volcano.BatchV1alpha1().Jobs(job.Namespace).Delete(ctx, job.Name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !k8serrors.IsNotFound(err) {
		return errors.Wrapf(err, "deleting %s/%s", job.Namespace, job.Name)
	}
	o.metrics.RecordJobTerminated(string(state))
	ctx.Log.WithField(logging.JobIdField, jobId).Infof("Job terminated as %s", state)
	return nil
}

// Kill deletes a job right away and releases its side resources without waiting for the deletion to be observed.
func (o *Orchestrator) Kill(ctx *ucontext.Context, jobId string) error {
	list, err := o.deps.Volcano.BatchV1alpha1().Jobs(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: domain.LabelJobId + "=" + jobId,
	})
	if err != nil {
		return errors.Wrapf(err, "looking up job %s", jobId)
	}
	if len(list.Items) == 0 {
		return errors.WithStack(&uclouderrors.ErrNotFound{Type: "job", Value: jobId})
	}
	return o.kill(ctx, &list.Items[0])
}

func (o *Orchestrator) kill(ctx *ucontext.Context, job *vol.Job) error {
	jobId, _ := domain.JobId(job.Labels)
	ctx = ucontext.WithJob(ctx, jobId, job.Name, job.Namespace)
	request := o.lookupJob(ctx, jobId)
	err := o.terminate(ctx, job, api.JobStateKilled, "Job was killed", metav1.DeletePropagationForeground)
	if err != nil {
		return err
	}
	return o.runCleanup(o.hookContext(ctx, jobId, request, job))
}

// Drain kills every job managed by the job manager.
func (o *Orchestrator) Drain(ctx *ucontext.Context) error {
	list, err := o.deps.Volcano.BatchV1alpha1().Jobs(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: domain.LabelJobId,
	})
	if err != nil {
		return errors.Wrap(err, "listing jobs")
	}
	var result *multierror.Error
	killed := 0
	for i := range list.Items {
		if err := o.kill(ctx, &list.Items[i]); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		killed++
	}
	ctx.Log.Infof("Drained %d of %d jobs", killed, len(list.Items))
	return result.ErrorOrNil()
}

func (o *Orchestrator) runCleanup(hctx *plugin.HookContext) error {
	var result *multierror.Error
	for _, h := range hooksOf[plugin.CleanupHook](o.registry) {
		if err := h.hook.OnCleanup(hctx); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "cleanup of plugin %s", h.name))
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) hookContext(ctx *ucontext.Context, jobId string, job *api.JobRequest, resource *vol.Job) *plugin.HookContext {
	return &plugin.HookContext{
		Context:  ctx,
		Deps:     o.deps,
		Host:     o,
		JobId:    jobId,
		Job:      job,
		Resource: resource,
	}
}

// lookupJob returns what is known about the request of a job, or nil.
func (o *Orchestrator) lookupJob(ctx *ucontext.Context, jobId string) *api.JobRequest {
	job, err := o.deps.Jobs.Lookup(ctx, jobId)
	if err != nil {
		ctx.Log.WithError(err).Debugf("No request known for job %s", jobId)
		return nil
	}
	return job
}

func (o *Orchestrator) pushStatus(ctx *ucontext.Context, jobId string, state api.JobState, message string) {
	err := o.deps.Status.PushStatus(ctx, api.JobStatusUpdate{
		JobId:     jobId,
		State:     state,
		Message:   message,
		Timestamp: o.deps.Clock.Now(),
	})
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("Could not push %s status of job %s", state, jobId)
	}
}

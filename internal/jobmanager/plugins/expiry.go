package plugins

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// ErrMissingMaxTime means a job was started without the max time stamped on it at creation.
var ErrMissingMaxTime = errors.New("job has no " + domain.AnnotationMaxTime + " annotation")

// Expiry enforces the time allocation of jobs.
//
// A job is stamped with its max time when created. When it is first seen running, expiry = now + max time is stored
// next to the start time, and a monitoring pass is scheduled for the moment of expiry. A monitoring pass which finds
// now >= expiry terminates the job; otherwise the check is scheduled again.
type Expiry struct {
	defaultMaxTime time.Duration
}

func NewExpiry(application configuration.ApplicationConfiguration) *Expiry {
	return &Expiry{defaultMaxTime: application.DefaultMaxTime}
}

func (p *Expiry) Name() string {
	return configuration.PluginExpiry
}

func (p *Expiry) OnCreate(ctx *plugin.HookContext) error {
	job, err := ctx.RequireJob()
	if err != nil {
		return err
	}
	maxTime := time.Duration(job.TimeAllocationMillis) * time.Millisecond
	if maxTime <= 0 {
		maxTime = p.defaultMaxTime
	}
	ctx.Resource.Annotations[domain.AnnotationMaxTime] = domain.FormatDuration(maxTime)
	return nil
}

func (p *Expiry) OnJobStart(ctx *plugin.HookContext) error {
	job := ctx.Resource
	expiry, started, err := domain.TimeAnnotation(job, domain.AnnotationExpiry)
	if err != nil {
		return err
	}
	if started {
		p.schedule(ctx, ctx.JobId, expiry)
		return nil
	}

	maxTime, ok, err := domain.MillisAnnotation(job, domain.AnnotationMaxTime)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrMissingMaxTime, "starting %s/%s", job.Namespace, job.Name)
	}

	now := ctx.Deps.Clock.Now()
	expiry = now.Add(time.Duration(maxTime) * time.Millisecond)
	err = ctx.Deps.PatchJobAnnotations(ctx.Context, job, map[string]string{
		domain.AnnotationJobStart: domain.FormatMillis(now),
		domain.AnnotationExpiry:   domain.FormatMillis(expiry),
	})
	if err != nil {
		return err
	}
	p.schedule(ctx, ctx.JobId, expiry)
	return nil
}

func (p *Expiry) OnJobMonitoring(ctx *plugin.HookContext, batch []*vol.Job) error {
	var result *multierror.Error
	now := ctx.Deps.Clock.Now()
	for _, job := range batch {
		jobId, ok := domain.JobId(job.Labels)
		if !ok {
			continue
		}
		expiry, ok, err := domain.TimeAnnotation(job, domain.AnnotationExpiry)
		if err != nil {
			logging.WithStacktrace(ctx.Log, err).Warnf("Ignoring expiry of job %s", jobId)
			continue
		}
		if !ok {
			continue
		}
		if now.Before(expiry) {
			p.schedule(ctx, jobId, expiry)
			continue
		}
		ctx.Log.WithField(logging.JobIdField, jobId).Infof("Job has reached its expiry at %s", expiry.Format(time.RFC3339))
		if err := ctx.Host.Terminate(ctx.Context, job, api.JobStateExpired, "Job has exceeded its time allocation"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (p *Expiry) OnCleanup(ctx *plugin.HookContext) error {
	ctx.Deps.Scheduler.Cancel(expiryKey(ctx.JobId))
	return nil
}

func (p *Expiry) schedule(ctx *plugin.HookContext, jobId string, expiry time.Time) {
	host := ctx.Host
	ctx.Deps.Scheduler.ScheduleAt(expiryKey(jobId), expiry, func() {
		host.RequestMonitoring(jobId)
	})
}

func expiryKey(jobId string) string {
	return "expiry/" + jobId
}

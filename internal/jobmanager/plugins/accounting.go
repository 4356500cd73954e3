package plugins

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/logging"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/configuration"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/deps"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/plugin"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// Accounting charges owners for the time elapsed since the job was last charged, or since it started.
type Accounting struct{}

func NewAccounting() *Accounting {
	return &Accounting{}
}

func (p *Accounting) Name() string {
	return configuration.PluginAccounting
}

func (p *Accounting) OnJobMonitoring(ctx *plugin.HookContext, batch []*vol.Job) error {
	var result *multierror.Error
	for _, job := range batch {
		if err := p.charge(ctx, job); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (p *Accounting) OnJobComplete(ctx *plugin.HookContext) error {
	if ctx.Resource == nil {
		return nil
	}
	return p.charge(ctx, ctx.Resource)
}

// charge bills the interval since the last charge. The new timestamp is written with a patch guarded on the
// previous one before usage is reported, so a stale copy of the job can never bill the same interval twice.
func (p *Accounting) charge(ctx *plugin.HookContext, job *vol.Job) error {
	jobId, _ := domain.JobId(job.Labels)
	log := ctx.Log.WithField(logging.JobIdField, jobId)

	source := job
	if _, ok := job.Annotations[domain.AnnotationLastAccountingTs]; !ok {
		fresh, err := ctx.Deps.Volcano.BatchV1alpha1().Jobs(job.Namespace).Get(ctx.Context, job.Name, metav1.GetOptions{})
		if err == nil {
			source = fresh
		} else if !k8serrors.IsNotFound(err) {
			return errors.Wrapf(err, "reading %s/%s before accounting", job.Namespace, job.Name)
		}
	}

	var previous *string
	if raw, ok := source.Annotations[domain.AnnotationLastAccountingTs]; ok {
		previous = &raw
	}
	last, ok, err := domain.TimeAnnotation(source, domain.AnnotationLastAccountingTs)
	if err != nil {
		return err
	}
	if !ok {
		last, ok, err = domain.TimeAnnotation(source, domain.AnnotationJobStart)
		if err != nil {
			return err
		}
	}
	if !ok {
		log.Warn("Job has neither been charged nor started, skipping accounting")
		return nil
	}

	now := ctx.Deps.Clock.Now()
	elapsed := now.UnixMilli() - last.UnixMilli()
	if elapsed <= 0 {
		log.Debugf("Nothing to charge, last charged at %s", last.Format(time.RFC3339Nano))
		return nil
	}

	nowRaw := domain.FormatMillis(now)
	err = ctx.Deps.PatchJobAnnotationsIf(ctx.Context, job,
		map[string]*string{domain.AnnotationLastAccountingTs: previous},
		map[string]string{domain.AnnotationLastAccountingTs: nowRaw})
	if errors.Is(err, deps.ErrAnnotationsChanged) {
		log.Debug("Job was charged concurrently, remaining time is charged on the next pass")
		return nil
	}
	if err != nil {
		return err
	}

	var replicas int32 = 1
	if len(job.Spec.Tasks) > 0 {
		replicas = job.Spec.Tasks[0].Replicas
	}
	err = ctx.Deps.Usage.ReportUsage(ctx.Context, api.UsageReport{
		JobId:         jobId,
		Owner:         domain.OwnerFromLabels(job.Labels),
		Product:       job.Annotations[domain.AnnotationProduct],
		Replicas:      replicas,
		ElapsedMillis: elapsed,
		Timestamp:     now,
	})
	if err != nil {
		rollback := ctx.Deps.PatchJobAnnotationsIf(ctx.Context, job,
			map[string]*string{domain.AnnotationLastAccountingTs: &nowRaw},
			map[string]string{domain.AnnotationLastAccountingTs: domain.FormatMillis(last)})
		if rollback != nil {
			log.WithError(rollback).Warn("Unable to restore accounting timestamp after failed usage report")
		}
		return err
	}
	return nil
}

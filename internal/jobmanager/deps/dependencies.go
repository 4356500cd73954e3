package deps

import (
	"github.com/pkg/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"
	vol "volcano.sh/apis/pkg/apis/batch/v1alpha1"
	volcanoclient "volcano.sh/apis/pkg/client/clientset/versioned"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/task"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

// StatusSink receives lifecycle transitions of jobs. Pushing the same state twice must be harmless.
type StatusSink interface {
	PushStatus(ctx *ucontext.Context, update api.JobStatusUpdate) error
}

// UsageReporter charges owners for the time their jobs have been running.
type UsageReporter interface {
	ReportUsage(ctx *ucontext.Context, report api.UsageReport) error
}

// Dependencies is everything the orchestrator and its plugins talk to. It is built once by the application.
type Dependencies struct {
	Kube       kubernetes.Interface
	Volcano    volcanoclient.Interface
	Scheduler  *task.Scheduler
	Status     StatusSink
	Usage      UsageReporter
	Jobs       *JobCache
	Identities *IdentityCache
	Clock      clock.WithTickerAndDelayedExecution
}

// ErrAnnotationsChanged is returned by PatchJobAnnotationsIf when the stored annotations no longer match.
var ErrAnnotationsChanged = errors.New("annotations changed concurrently")

// PatchJobAnnotations writes values onto the job with a single JSON patch, so concurrent writers of other
// annotations are not overwritten. On success the annotations of job are updated in place.
func (d *Dependencies) PatchJobAnnotations(ctx *ucontext.Context, job *vol.Job, values map[string]string) error {
	return d.PatchJobAnnotationsIf(ctx, job, nil, values)
}

// PatchJobAnnotationsIf is PatchJobAnnotations which only applies if every annotation in expected still holds
// the given value on the server, nil meaning absent. Otherwise nothing is written and ErrAnnotationsChanged is
// returned.
func (d *Dependencies) PatchJobAnnotationsIf(ctx *ucontext.Context, job *vol.Job, expected map[string]*string, values map[string]string) error {
	patch, err := domain.GuardedAnnotationPatch(expected, values)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = d.Volcano.BatchV1alpha1().Jobs(job.Namespace).Patch(ctx, job.Name, types.JSONPatchType, patch, metav1.PatchOptions{})
	if len(expected) > 0 && k8serrors.IsInvalid(err) {
		return errors.Wrapf(ErrAnnotationsChanged, "patching annotations of %s/%s: %v", job.Namespace, job.Name, err)
	}
	if err != nil {
		return errors.Wrapf(err, "patching annotations of %s/%s", job.Namespace, job.Name)
	}
	if job.Annotations == nil {
		job.Annotations = map[string]string{}
	}
	for k, v := range values {
		job.Annotations[k] = v
	}
	return nil
}

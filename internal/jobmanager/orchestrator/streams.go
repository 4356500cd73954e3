package orchestrator

import (
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager/domain"
)

// opener lists the current state of a resource kind and starts watching from there. The listed state is returned as
// synthetic events.
type opener func(ctx *ucontext.Context) ([]watch.Event, watch.Interface, error)

type stream struct {
	name    string
	open    opener
	handle  func(ctx *ucontext.Context, event watch.Event)
	watcher watch.Interface
}

func (s *stream) results() <-chan watch.Event {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.ResultChan()
}

// reopen replaces the watch of the stream and handles the listed state.
func (s *stream) reopen(ctx *ucontext.Context) error {
	s.stop()
	var listed []watch.Event
	err := retry.Do(
		func() error {
			events, watcher, err := s.open(ctx)
			if err != nil {
				return err
			}
			listed, s.watcher = events, watcher
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return errors.WithMessagef(err, "opening %s stream", s.name)
	}
	for _, event := range listed {
		s.handle(ctx, event)
	}
	return nil
}

func (s *stream) stop() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
}

// openJobs lists every job carrying a job id. Tracked jobs missing from the list were deleted while nobody watched
// and are reported as deleted.
func (o *Orchestrator) openJobs(ctx *ucontext.Context) ([]watch.Event, watch.Interface, error) {
	client := o.deps.Volcano.BatchV1alpha1().Jobs(metav1.NamespaceAll)
	options := metav1.ListOptions{LabelSelector: domain.LabelJobId}
	list, err := client.List(ctx, options)
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing jobs")
	}

	events := make([]watch.Event, 0, len(list.Items))
	present := map[string]bool{}
	for i := range list.Items {
		job := &list.Items[i]
		if jobId, ok := domain.JobId(job.Labels); ok {
			present[jobId] = true
		}
		events = append(events, watch.Event{Type: watch.Added, Object: job})
	}
	for _, job := range o.tracker.missing(present) {
		events = append(events, watch.Event{Type: watch.Deleted, Object: job})
	}

	options.ResourceVersion = list.ResourceVersion
	watcher, err := client.Watch(ctx, options)
	if err != nil {
		return nil, nil, errors.Wrap(err, "watching jobs")
	}
	return events, watcher, nil
}

// openPods lists the pods created by volcano for any job.
func (o *Orchestrator) openPods(ctx *ucontext.Context) ([]watch.Event, watch.Interface, error) {
	client := o.deps.Kube.CoreV1().Pods(metav1.NamespaceAll)
	options := metav1.ListOptions{LabelSelector: domain.VolcanoJobNameLabel}
	list, err := client.List(ctx, options)
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing pods")
	}

	events := make([]watch.Event, 0, len(list.Items))
	for i := range list.Items {
		events = append(events, watch.Event{Type: watch.Added, Object: &list.Items[i]})
	}

	options.ResourceVersion = list.ResourceVersion
	watcher, err := client.Watch(ctx, options)
	if err != nil {
		return nil, nil, errors.Wrap(err, "watching pods")
	}
	return events, watcher, nil
}
